package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"brokerdash/src/connectors"
	"brokerdash/src/controller"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

// MT5Gateway is one manager session against the MT5 gateway.
type MT5Gateway interface {
	Authenticate(ctx context.Context) error
	Close()
	User(ctx context.Context, login int64) (json.RawMessage, error)
	Account(ctx context.Context, login int64) (json.RawMessage, error)
	AccountsBatch(ctx context.Context, logins []int64, groups []string) ([]json.RawMessage, error)
	UserLogins(ctx context.Context, groups []string) ([]int64, error)
	Trades(ctx context.Context, login, from, to int64) ([]json.RawMessage, error)
	DealsTotal(ctx context.Context, login, from, to int64) (json.RawMessage, error)
	DealsBatch(ctx context.Context, logins []int64, groups []string, from, to int64) ([]json.RawMessage, error)
	PositionsTotal(ctx context.Context, login int64) (json.RawMessage, error)
	PositionsBatch(ctx context.Context, logins []int64, groups []string) ([]json.RawMessage, error)
	DailyReports(ctx context.Context, login, from, to int64) ([]json.RawMessage, error)
	DailyReportsBatch(ctx context.Context, logins []int64, groups []string, from, to int64) ([]json.RawMessage, error)
}

// MT5SessionFactory opens a fresh, unauthenticated gateway session.
type MT5SessionFactory func() (MT5Gateway, error)

var errFailedResolve = errors.New("Failed to resolve logins")

type badRequest string

func (e badRequest) Error() string { return string(e) }

const (
	msgLoginRequired        = badRequest("Login parameter required")
	msgLoginsRequired       = badRequest("Logins parameter required")
	msgGroupsRequired       = badRequest("groups parameter required")
	msgAccountsBatchArgs    = badRequest("logins or groups parameter required")
	msgBatchArgs            = badRequest("Logins or groups parameter required")
	msgDailyArgs            = badRequest("login, from and to parameters required")
	msgDailyBatchArgs       = badRequest("logins or groups, from and to parameters required")
	msgValidLoginRequired   = badRequest("Valid login parameter required")
	msgInvalidTimeParameter = badRequest("from and to must be Unix epoch seconds")
)

type mt5Params struct {
	login  int64
	logins []int64
	groups []string
	fields []string
	from   int64
	to     int64

	hasLogin, hasLogins, hasGroups, hasFrom, hasTo bool
}

func parseMT5Params(r *http.Request) (mt5Params, error) {
	var p mt5Params

	if raw := strings.TrimSpace(r.FormValue("login")); raw != "" {
		login, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || login <= 0 {
			return p, msgValidLoginRequired
		}
		p.login, p.hasLogin = login, true
	}
	if raw := strings.TrimSpace(r.FormValue("logins")); raw != "" {
		for _, item := range parseList(raw) {
			login, err := strconv.ParseInt(item, 10, 64)
			if err != nil || login <= 0 {
				return p, msgValidLoginRequired
			}
			p.logins = append(p.logins, login)
		}
		p.hasLogins = len(p.logins) > 0
	}
	if raw := strings.TrimSpace(r.FormValue("groups")); raw != "" {
		p.groups = parseList(raw)
		p.hasGroups = len(p.groups) > 0
	}
	if raw := strings.TrimSpace(r.FormValue("fields")); raw != "" {
		p.fields = parseList(raw)
	}

	var err error
	if p.from, p.hasFrom, err = parseEpoch(r.FormValue("from")); err != nil {
		return p, err
	}
	if p.to, p.hasTo, err = parseEpoch(r.FormValue("to")); err != nil {
		return p, err
	}
	return p, nil
}

func parseEpoch(raw string) (int64, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, false, msgInvalidTimeParameter
	}
	return v, true, nil
}

// parseList accepts a JSON array (strings or numbers) or a comma separated
// list. Blank items are dropped.
func parseList(raw string) []string {
	var out []string
	var items []json.RawMessage
	if strings.HasPrefix(raw, "[") && json.Unmarshal([]byte(raw), &items) == nil {
		for _, item := range items {
			var s string
			if json.Unmarshal(item, &s) != nil {
				s = string(item)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	for _, item := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type mt5Endpoint struct {
	validate func(p mt5Params) error
	run      func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error)
}

func requireLogin(p mt5Params) error {
	if !p.hasLogin {
		return msgLoginRequired
	}
	return nil
}

func requireLoginsOrGroups(msg badRequest) func(p mt5Params) error {
	return func(p mt5Params) error {
		if !p.hasLogins && !p.hasGroups {
			return msg
		}
		return nil
	}
}

func resolveLogins(ctx context.Context, gw MT5Gateway, p mt5Params) ([]int64, error) {
	logins, err := controller.ResolveLogins(ctx, gw, p.logins, p.groups)
	if err != nil {
		if cause := errors.Unwrap(err); cause != nil && cause.Error() != "" {
			return nil, cause
		}
		return nil, errFailedResolve
	}
	return logins, nil
}

var mt5Endpoints = map[string]mt5Endpoint{
	"ping": {
		run: func(context.Context, MT5Gateway, mt5Params) (interface{}, error) { return nil, nil },
	},
	"user": {
		validate: requireLogin,
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			return gw.User(ctx, p.login)
		},
	},
	"users": {
		validate: func(p mt5Params) error {
			if !p.hasLogins {
				return msgLoginsRequired
			}
			return nil
		},
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			users := make([]json.RawMessage, 0, len(p.logins))
			for _, login := range p.logins {
				user, err := gw.User(ctx, login)
				if err != nil {
					continue
				}
				users = append(users, user)
			}
			return users, nil
		},
	},
	"account": {
		validate: requireLogin,
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			return gw.Account(ctx, p.login)
		},
	},
	"accounts-batch": {
		validate: requireLoginsOrGroups(msgAccountsBatchArgs),
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			logins, err := resolveLogins(ctx, gw, p)
			if err != nil {
				return nil, err
			}
			return controller.FetchChunked(ctx, logins, controller.LoginChunkSize, func(ctx context.Context, chunk []int64) ([]json.RawMessage, error) {
				return gw.AccountsBatch(ctx, chunk, nil)
			})
		},
	},
	"user-logins": {
		validate: func(p mt5Params) error {
			if !p.hasGroups {
				return msgGroupsRequired
			}
			return nil
		},
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			return gw.UserLogins(ctx, p.groups)
		},
	},
	"trades": {
		validate: requireLogin,
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			return gw.Trades(ctx, p.login, p.from, p.to)
		},
	},
	"deal-total": {
		validate: requireLogin,
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			return gw.DealsTotal(ctx, p.login, p.from, p.to)
		},
	},
	"deals-batch": {
		validate: requireLoginsOrGroups(msgBatchArgs),
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			if !p.hasLogins {
				return gw.DealsBatch(ctx, nil, p.groups, p.from, p.to)
			}
			return controller.FetchChunked(ctx, p.logins, controller.LoginChunkSize, func(ctx context.Context, chunk []int64) ([]json.RawMessage, error) {
				return gw.DealsBatch(ctx, chunk, nil, p.from, p.to)
			})
		},
	},
	"position-total": {
		validate: requireLogin,
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			return gw.PositionsTotal(ctx, p.login)
		},
	},
	"positions-batch": {
		validate: requireLoginsOrGroups(msgBatchArgs),
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			logins, err := resolveLogins(ctx, gw, p)
			if err != nil {
				return nil, err
			}
			return controller.FetchChunked(ctx, logins, controller.LoginChunkSize, func(ctx context.Context, chunk []int64) ([]json.RawMessage, error) {
				return gw.PositionsBatch(ctx, chunk, nil)
			})
		},
	},
	"daily": {
		validate: func(p mt5Params) error {
			if !p.hasLogin || !p.hasFrom || !p.hasTo {
				return msgDailyArgs
			}
			return nil
		},
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			return gw.DailyReports(ctx, p.login, p.from, p.to)
		},
	},
	"daily-batch": {
		validate: func(p mt5Params) error {
			if (!p.hasLogins && !p.hasGroups) || !p.hasFrom || !p.hasTo {
				return msgDailyBatchArgs
			}
			return nil
		},
		run: func(ctx context.Context, gw MT5Gateway, p mt5Params) (interface{}, error) {
			logins, err := resolveLogins(ctx, gw, p)
			if err != nil {
				return nil, err
			}
			return controller.FetchChunked(ctx, logins, controller.LoginChunkSize, func(ctx context.Context, chunk []int64) ([]json.RawMessage, error) {
				return gw.DailyReportsBatch(ctx, chunk, nil, p.from, p.to)
			})
		},
	},
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeEnvelope(w http.ResponseWriter, status int, env connectors.ProxyEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.WithError(err).Error("failed to encode mt5 proxy response")
	}
}

func writeProxyError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, connectors.ProxyEnvelope{Success: false, Error: msg})
}

// MT5ProxyHandler serves the `?endpoint=` MT5 proxy. Parameters are checked
// first; each accepted request then runs on its own authenticated session,
// which is closed before the response is written.
func MT5ProxyHandler(newSession MT5SessionFactory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			return
		case http.MethodGet, http.MethodPost:
		default:
			writeProxyError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		name := r.URL.Query().Get("endpoint")
		log := logger.WithFields(logger.Fields{
			"component":  "mt5_proxy",
			"endpoint":   name,
			"request_id": uuid.NewString(),
		})

		endpoint, ok := mt5Endpoints[name]
		if !ok {
			writeProxyError(w, http.StatusBadRequest, "Unknown endpoint: "+name)
			return
		}

		params, err := parseMT5Params(r)
		if err == nil && endpoint.validate != nil {
			err = endpoint.validate(params)
		}
		if err != nil {
			log.WithError(err).Debug("rejected mt5 proxy request")
			writeProxyError(w, http.StatusBadRequest, err.Error())
			return
		}

		gw, err := newSession()
		if err != nil {
			log.WithError(err).Error("failed to create mt5 session")
			writeProxyError(w, http.StatusInternalServerError, "Server error: "+err.Error())
			return
		}
		defer gw.Close()

		if err := gw.Authenticate(r.Context()); err != nil {
			log.WithError(err).Warn("mt5 authentication failed")
			writeProxyError(w, http.StatusBadGateway, "MT5 authentication failed: "+err.Error())
			return
		}

		if name == "ping" {
			writeEnvelope(w, http.StatusOK, connectors.ProxyEnvelope{Success: true, Message: "MT5 connection OK"})
			return
		}

		result, err := endpoint.run(r.Context(), gw, params)
		if err != nil {
			log.WithError(err).Warn("mt5 gateway call failed")
			writeProxyError(w, http.StatusBadGateway, err.Error())
			return
		}

		data, err := encodeProjected(result, params.fields)
		if err != nil {
			log.WithError(err).Error("failed to encode mt5 data")
			writeProxyError(w, http.StatusInternalServerError, "Server error: "+err.Error())
			return
		}
		writeEnvelope(w, http.StatusOK, connectors.ProxyEnvelope{Success: true, Data: data})
	}
}

// DefaultMT5ProxyHandler wires the handler to real gateway sessions built from
// the environment.
func DefaultMT5ProxyHandler() http.HandlerFunc {
	cfg := connectors.GetConfig().MT5SessionConfig()
	return MT5ProxyHandler(func() (MT5Gateway, error) {
		s, err := connectors.NewMT5Session(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

func encodeProjected(result interface{}, fields []string) (json.RawMessage, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return raw, nil
	}
	return ProjectFields(raw, fields)
}

// ProjectFields keeps only the named keys of a JSON object, or of every
// object in a JSON array. Other values pass through untouched.
func ProjectFields(raw json.RawMessage, fields []string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return raw, nil
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		kept := make(map[string]json.RawMessage, len(fields))
		for _, f := range fields {
			if v, ok := obj[f]; ok {
				kept[f] = v
			}
		}
		return json.Marshal(kept)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		out := make([]json.RawMessage, 0, len(items))
		for _, item := range items {
			projected, err := ProjectFields(item, fields)
			if err != nil {
				return nil, err
			}
			out = append(out, projected)
		}
		return json.Marshal(out)
	default:
		return raw, nil
	}
}
