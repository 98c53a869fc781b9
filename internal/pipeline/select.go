package pipeline

import (
	"errors"

	"github.com/amvg/harvester/internal/model"
)

// ErrNoDestinations is returned when no destination is available for publishing
var ErrNoDestinations = errors.New("no destinations available")

// DestinationStrategy selects a publish destination for an item
type DestinationStrategy interface {
	Select(destinations []model.Destination, item model.Item) (*model.Destination, error)
}

// MostContentStrategy selects the destination with the largest existing
// content count. When every count is zero it falls back to the first
// destination in the order the publisher returned them. This is a
// load-balancing heuristic, not a content classifier.
type MostContentStrategy struct{}

// Select implements DestinationStrategy
func (s *MostContentStrategy) Select(destinations []model.Destination, _ model.Item) (*model.Destination, error) {
	if len(destinations) == 0 {
		return nil, ErrNoDestinations
	}

	selected := destinations[0]
	for _, d := range destinations[1:] {
		if d.Count > selected.Count {
			selected = d
		}
	}
	return &selected, nil
}

// FirstAvailableStrategy always selects the first destination
type FirstAvailableStrategy struct{}

// Select implements DestinationStrategy
func (s *FirstAvailableStrategy) Select(destinations []model.Destination, _ model.Item) (*model.Destination, error) {
	if len(destinations) == 0 {
		return nil, ErrNoDestinations
	}
	return &destinations[0], nil
}
