package models

import "github.com/google/uuid"

// ensureID assigns a random id when the caller left it empty; the sqlite
// dialector has no gen_random_uuid() default.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
