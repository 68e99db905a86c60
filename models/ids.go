package models

import "github.com/disgoorg/snowflake/v2"

// ValidID reports whether id can name a remote entity. Zero is never issued,
// and an id with the sign bit set is what a negative number becomes after
// conversion, so both are rejected.
func ValidID(id snowflake.ID) bool {
	return id != 0 && int64(id) > 0
}

func cloneIDs(ids []snowflake.ID) []snowflake.ID {
	if ids == nil {
		return nil
	}
	out := make([]snowflake.ID, len(ids))
	copy(out, ids)
	return out
}
