package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"brokerdash/src/controller"
	"brokerdash/src/model"

	logger "github.com/sirupsen/logrus"
)

// NotFound is written for logins whose email could not be resolved.
const NotFound = "NOT FOUND"

type crmReader interface {
	FetchUsers(ctx context.Context, req model.UserRequest) ([]model.User, error)
	FetchAccounts(ctx context.Context, req model.AccountRequest) ([]model.Account, error)
}

type positionReader interface {
	PositionsBatch(ctx context.Context, logins []int64, groups []string) ([]model.MT5Position, error)
}

type mirrorWriter interface {
	EnsureEntity(ctx context.Context, name string) (uint, error)
	EnsureClient(ctx context.Context, crmID int64, name string, entityID *uint) (uint, error)
	EnsureGroup(ctx context.Context, name, path string) (uint, error)
	EnsureAccount(ctx context.Context, accountID int64, accountType string, clientID, groupID *uint) (uint, error)
	EnsureSymbol(ctx context.Context, name, symbol string, groupID uint) (uint, error)
	ClientIDByCrmID(ctx context.Context, crmID int64) (*uint, error)
	AccountGroupID(ctx context.Context, accountID int64) (*uint, error)
}

// Stats counts rows seen, written and skipped by one import.
type Stats struct {
	Processed int
	Stored    int
	Skipped   int
}

// Importer copies CRM and MT5 records into the local mirror. A bad row is
// logged and skipped; only a failed upstream fetch aborts an import.
type Importer struct {
	Log         *logger.Entry
	CRM         crmReader
	MT5         positionReader
	Mirror      mirrorWriter
	EntityField string
}

func (i *Importer) skip(stats *Stats, err error, fields logger.Fields) {
	stats.Skipped++
	i.Log.WithFields(fields).WithError(err).Warn("skipping row")
}

// ImportClients stores every CRM user with its entity (custom field, else Default).
func (i *Importer) ImportClients(ctx context.Context) (Stats, error) {
	var stats Stats
	users, err := i.CRM.FetchUsers(ctx, model.UserRequest{})
	if err != nil {
		return stats, fmt.Errorf("fetch users: %w", err)
	}
	for _, u := range users {
		stats.Processed++
		entity := u.Entity(i.EntityField)
		entityID, err := i.Mirror.EnsureEntity(ctx, entity)
		if err != nil {
			i.skip(&stats, err, logger.Fields{"crm_id": u.ID, "entity": entity})
			continue
		}
		if _, err := i.Mirror.EnsureClient(ctx, u.ID, u.Name(), &entityID); err != nil {
			i.skip(&stats, err, logger.Fields{"crm_id": u.ID})
			continue
		}
		stats.Stored++
	}
	i.Log.WithFields(logger.Fields{"processed": stats.Processed, "stored": stats.Stored, "skipped": stats.Skipped}).Info("clients imported")
	return stats, nil
}

// ImportAccounts stores CRM trading accounts with their group and owning client.
func (i *Importer) ImportAccounts(ctx context.Context) (Stats, error) {
	var stats Stats
	accounts, err := i.CRM.FetchAccounts(ctx, model.AccountRequest{})
	if err != nil {
		return stats, fmt.Errorf("fetch accounts: %w", err)
	}
	for _, a := range accounts {
		stats.Processed++
		fields := logger.Fields{"login": a.Login, "crm_user": a.UserID}
		login, err := strconv.ParseInt(a.Login, 10, 64)
		if err != nil {
			i.skip(&stats, fmt.Errorf("invalid login: %w", err), fields)
			continue
		}
		group := a.GroupLabel()
		groupID, err := i.Mirror.EnsureGroup(ctx, group, group)
		if err != nil {
			i.skip(&stats, err, fields)
			continue
		}
		clientID, err := i.Mirror.ClientIDByCrmID(ctx, a.UserID)
		if err != nil {
			i.skip(&stats, err, fields)
			continue
		}
		accountType := strconv.FormatInt(a.AccountTypeID, 10)
		if _, err := i.Mirror.EnsureAccount(ctx, login, accountType, clientID, &groupID); err != nil {
			i.skip(&stats, err, fields)
			continue
		}
		stats.Stored++
	}
	i.Log.WithFields(logger.Fields{"processed": stats.Processed, "stored": stats.Stored, "skipped": stats.Skipped}).Info("accounts imported")
	return stats, nil
}

// ImportSymbols stores the symbols of open positions under the group of the
// mirrored account that holds them. Positions of unknown logins are skipped.
func (i *Importer) ImportSymbols(ctx context.Context, groups []string) (Stats, error) {
	var stats Stats
	positions, err := i.MT5.PositionsBatch(ctx, nil, groups)
	if err != nil {
		return stats, fmt.Errorf("fetch positions: %w", err)
	}
	for _, p := range positions {
		stats.Processed++
		login := int64(p.Login)
		fields := logger.Fields{"login": login, "symbol": p.Symbol}
		groupID, err := i.Mirror.AccountGroupID(ctx, login)
		if err != nil {
			i.skip(&stats, err, fields)
			continue
		}
		if groupID == nil {
			stats.Skipped++
			continue
		}
		if _, err := i.Mirror.EnsureSymbol(ctx, p.Symbol, controller.NormalizeSymbol(p.Symbol), *groupID); err != nil {
			i.skip(&stats, err, fields)
			continue
		}
		stats.Stored++
	}
	i.Log.WithFields(logger.Fields{"processed": stats.Processed, "stored": stats.Stored, "skipped": stats.Skipped}).Info("symbols imported")
	return stats, nil
}

// ExportEmails resolves each MT5 login to its CRM user's email and writes a
// login,email CSV in input order. Lookup failures become NotFound.
func (i *Importer) ExportEmails(ctx context.Context, logins []string, out io.Writer) error {
	loginToUser := make(map[string]int64, len(logins))
	var userIDs []int64
	seen := map[int64]bool{}
	for _, login := range logins {
		accounts, err := i.CRM.FetchAccounts(ctx, model.AccountRequest{Login: login})
		if err != nil {
			i.Log.WithField("login", login).WithError(err).Warn("account lookup failed")
			continue
		}
		if len(accounts) == 0 || accounts[0].UserID == 0 {
			continue
		}
		uid := accounts[0].UserID
		loginToUser[login] = uid
		if !seen[uid] {
			seen[uid] = true
			userIDs = append(userIDs, uid)
		}
	}

	emails := map[int64]string{}
	if len(userIDs) > 0 {
		users, err := i.CRM.FetchUsers(ctx, model.UserRequest{IDs: userIDs})
		if err != nil {
			i.Log.WithError(err).Warn("user lookup failed")
		}
		for _, u := range users {
			if u.Email != "" {
				emails[u.ID] = u.Email
			}
		}
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"login", "email"}); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	for _, login := range logins {
		email := NotFound
		if uid, ok := loginToUser[login]; ok {
			if e, ok := emails[uid]; ok {
				email = e
			}
		}
		if err := w.Write([]string{login, email}); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// ParseLogins reads MT5 logins from a file (one per line, or comma separated)
// when input names a readable file, and from a comma separated list otherwise.
func ParseLogins(input string) []string {
	text := input
	if content, err := os.ReadFile(input); err == nil {
		text = string(content)
	}
	var logins []string
	for _, field := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' || r == '\r' }) {
		login := strings.TrimSpace(field)
		if login == "" || strings.HasPrefix(login, "#") {
			continue
		}
		logins = append(logins, login)
	}
	return logins
}
