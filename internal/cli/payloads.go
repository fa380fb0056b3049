package cli

import (
	"bytes"
	"errors"
	"fmt"

	"Mansoor88-6/driver-agent/internal/models"

	"gopkg.in/yaml.v3"
)

// parsePayloads reads a YAML or JSON document holding either a list of trip
// payloads or a single one. JSON is valid YAML, so one decoder covers both.
func parsePayloads(data []byte) ([]models.TripPayload, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("trip file is empty")
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse trip file: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, errors.New("trip file is empty")
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var payloads []models.TripPayload
		if err := root.Decode(&payloads); err != nil {
			return nil, fmt.Errorf("failed to decode trips: %w", err)
		}
		if len(payloads) == 0 {
			return nil, errors.New("trip file holds no trips")
		}
		return payloads, nil
	case yaml.MappingNode:
		var payload models.TripPayload
		if err := root.Decode(&payload); err != nil {
			return nil, fmt.Errorf("failed to decode trip: %w", err)
		}
		return []models.TripPayload{payload}, nil
	}
	return nil, fmt.Errorf("trip file must hold a list or a mapping, got %v", root.Kind)
}
