package panels

import (
	"errors"
	"strings"
)

var (
	ErrPanelNotFound    = errors.New("panel not found")
	ErrIsSuperPanel     = errors.New("panel is a super panel")
	ErrGeneDoesNotExist = errors.New("entity does not exist on panel")
	ErrVersionNotFound  = errors.New("historical snapshot not found")
	ErrPanelExists      = errors.New("panel with this name already exists")
	ErrEntityExists     = errors.New("entity already exists on panel")
	ErrUnknownPanelType = errors.New("unknown panel type")
	ErrInvalidChild     = errors.New("invalid child panel")
)

// GenesDoNotExistError lists every entity name a bulk operation could not find.
type GenesDoNotExistError struct {
	Names []string
}

func (e *GenesDoNotExistError) Error() string {
	return "entities do not exist on panel: " + strings.Join(e.Names, ", ")
}

func (e *GenesDoNotExistError) Is(target error) bool {
	return target == ErrGeneDoesNotExist
}
