package connectors

import (
	"fmt"
	"strconv"
	"strings"
)

// MT5RetCodes maps MT5 WebAPI return codes to their symbolic names.
var MT5RetCodes = map[int]string{
	0:    "MT_RET_OK",                    // Done
	1:    "MT_RET_OK_NONE",               // OK, no data
	2:    "MT_RET_ERROR",                 // Common error
	3:    "MT_RET_ERR_PARAMS",            // Invalid parameters
	4:    "MT_RET_ERR_DATA",              // Invalid data
	5:    "MT_RET_ERR_DISK",              // Disk error
	6:    "MT_RET_ERR_MEM",               // Memory error
	7:    "MT_RET_ERR_NETWORK",           // Network error
	8:    "MT_RET_ERR_PERMISSIONS",       // Not enough permissions
	9:    "MT_RET_ERR_TIMEOUT",           // Operation timeout
	10:   "MT_RET_ERR_CONNECTION",        // No connection
	11:   "MT_RET_ERR_NOSERVICE",         // Service not available
	12:   "MT_RET_ERR_FREQUENT",          // Too frequent requests
	13:   "MT_RET_ERR_NOTFOUND",          // Not found
	14:   "MT_RET_ERR_PARTIAL",           // Partial error
	15:   "MT_RET_ERR_SHUTDOWN",          // Server shutdown in progress
	16:   "MT_RET_ERR_CANCEL",            // Operation cancelled
	17:   "MT_RET_ERR_DUPLICATE",         // Duplicate attempt
	1000: "MT_RET_AUTH_CLIENT_INVALID",   // Invalid terminal type
	1001: "MT_RET_AUTH_ACCOUNT_INVALID",  // Invalid account
	1002: "MT_RET_AUTH_ACCOUNT_DISABLED", // Account disabled
	1003: "MT_RET_AUTH_ADVANCED",         // Advanced authorization required
	1004: "MT_RET_AUTH_CERTIFICATE",      // Certificate required
	1005: "MT_RET_AUTH_CERTIFICATE_BAD",  // Invalid certificate
	1006: "MT_RET_AUTH_NOTCONFIRMED",     // Certificate not confirmed
	1007: "MT_RET_AUTH_SERVER_INTERNAL",  // Attempt to connect to non-access server
	1008: "MT_RET_AUTH_SERVER_BAD",       // Server not authenticated
	1009: "MT_RET_AUTH_UPDATE_ONLY",      // Only updates available
	1010: "MT_RET_AUTH_CLIENT_OLD",       // Old client version
	1011: "MT_RET_AUTH_MANAGER_NOCONFIG", // Manager account has no configuration
	1012: "MT_RET_AUTH_MANAGER_IPBLOCK",  // IP address not allowed for manager
	1013: "MT_RET_AUTH_GROUP_INVALID",    // Group not initialized
	1014: "MT_RET_AUTH_CA_DISABLED",      // Certificate generation disabled
	1015: "MT_RET_AUTH_INVALID_ID",       // Invalid or disabled server id
	1016: "MT_RET_AUTH_INVALID_IP",       // Unapproved server IP address
	1017: "MT_RET_AUTH_INVALID_TYPE",     // Invalid server type
}

// GetMT5RetCodeName returns the symbolic name of an MT5 return code.
func GetMT5RetCodeName(code int) string {
	if name, ok := MT5RetCodes[code]; ok {
		return name
	}
	return fmt.Sprintf("MT_RET_UNKNOWN_%d", code)
}

// ParseMT5RetCode extracts the leading integer of a retcode string such as
// "0 Done" or "3 Invalid parameters". Unparseable values return ok=false.
func ParseMT5RetCode(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	end := 0
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	code, err := strconv.Atoi(raw[:end])
	if err != nil {
		return 0, false
	}
	return code, true
}
