package redis

import "strings"

const (
	keyNamespace      = "ent"
	idempotencyPrefix = "idempotency"
	lockPrefix        = "lock"
)

// IdempotencyKey namespaces a stored reply, e.g. ent:idempotency:<scope>:<key>.
func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

// LockKey returns the key guarding one scheduled sweep.
func (c *Client) LockKey(name string) string {
	return buildKey(lockPrefix, name)
}

func buildKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
