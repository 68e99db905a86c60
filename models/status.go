package models

type Status string

const (
	StatusOnline       Status = "online"
	StatusOffline      Status = "offline"
	StatusIdle         Status = "idle"
	StatusDoNotDisturb Status = "dnd"
	StatusInvisible    Status = "invisible"
)

// Valid reports whether s is one of the known presence values. The empty
// status is accepted and means the presence was never observed.
func (s Status) Valid() bool {
	switch s {
	case "", StatusOnline, StatusOffline, StatusIdle, StatusDoNotDisturb, StatusInvisible:
		return true
	}
	return false
}
