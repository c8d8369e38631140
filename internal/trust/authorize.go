package trust

import "strings"

// Group naming mirrors the identity provider's conventions.
const (
	SenderGroupPrefix = "DHSender_"
	SystemAdminGroup  = "DHPrimeAdmins"
)

// IsSenderAuthorized reports whether any of groups authorizes submissions
// for clientID. The system admin group always qualifies; otherwise a sender
// group's suffix must exactly equal the leading dot-segment of the client
// identifier. Comparison is case-sensitive after trimming incidental
// whitespace from the group suffix.
func IsSenderAuthorized(clientID string, groups []string) bool {
	org, _, _ := strings.Cut(clientID, ".")
	for _, group := range groups {
		if group == SystemAdminGroup {
			return true
		}
		suffix, ok := strings.CutPrefix(group, SenderGroupPrefix)
		if !ok {
			continue
		}
		if strings.TrimSpace(suffix) == org {
			return true
		}
	}
	return false
}
