package models

import "github.com/google/uuid"

// assignID gives rows a client-side UUID so inserts do not depend on gen_random_uuid().
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
