package internal

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Top-G-420/Rue-Organics/internal/model"
)

// rawStage covers both historical encodings of one stage entry: the current
// {name, completed, timestamp} shape and the legacy {stage: "delivery",
// address, instructions} record that predates explicit workflow stages.
type rawStage struct {
	Name         string      `json:"name"`
	Stage        string      `json:"stage"`
	Completed    interface{} `json:"completed"`
	Timestamp    *time.Time  `json:"timestamp"`
	Address      string      `json:"address"`
	Instructions string      `json:"instructions"`
}

// StageParser turns the loosely-typed persisted stages field into the
// canonical stage list. It never fails: an unreadable history falls back to
// the default workflow so a tracking view always has something to show.
type StageParser struct {
	logger *zap.SugaredLogger
}

func NewStageParser(logger *zap.SugaredLogger) *StageParser {
	return &StageParser{logger: logger}
}

// DefaultStages is the canonical six-stage workflow with only "Order Placed"
// completed, stamped at createdAt.
func DefaultStages(createdAt time.Time) []model.Stage {
	stages := make([]model.Stage, len(StageNames))
	for i, name := range StageNames {
		stages[i] = model.Stage{Name: name}
	}
	stages[0].Completed = true
	stages[0].Timestamp = &createdAt
	return stages
}

// Parse decodes a persisted stages value. Three shapes exist in the wild and
// all three must keep working:
//  1. absent or undecodable -> default workflow, failure logged only;
//  2. a lone delivery record -> default workflow plus extracted DeliveryInfo
//     (orders created before explicit stages were stored);
//  3. a stage list -> taken as canonical, with names normalized, completed
//     coerced to a strict bool, and DeliveryInfo lifted from the first entry
//     carrying an address without removing that entry.
func (p *StageParser) Parse(raw []byte, createdAt time.Time) ([]model.Stage, *model.DeliveryInfo) {
	if len(raw) == 0 {
		return DefaultStages(createdAt), nil
	}

	entries, err := decodeStageEntries(raw)
	if err != nil {
		p.logger.Errorf("stage history unreadable, substituting default workflow: %s", err)
		return DefaultStages(createdAt), nil
	}
	if len(entries) == 0 {
		return DefaultStages(createdAt), nil
	}

	if len(entries) == 1 && entries[0].Stage == "delivery" && entries[0].Name == "" {
		return DefaultStages(createdAt), deliveryInfo(entries[0])
	}

	var delivery *model.DeliveryInfo
	stages := make([]model.Stage, 0, len(entries))
	for _, e := range entries {
		if delivery == nil && e.Address != "" {
			delivery = deliveryInfo(e)
		}

		name := e.Name
		if name == "" {
			name = e.Stage
		}
		if name == "" {
			name = "Unknown"
		}

		stages = append(stages, model.Stage{
			Name:      name,
			Completed: e.Completed == true,
			Timestamp: e.Timestamp,
		})
	}
	return stages, delivery
}

// EncodeStages produces the canonical persisted form; Parse round-trips it.
func EncodeStages(stages []model.Stage) ([]byte, error) {
	return json.Marshal(stages)
}

func decodeStageEntries(raw []byte) ([]rawStage, error) {
	var entries []rawStage
	if err := json.Unmarshal(raw, &entries); err == nil {
		return entries, nil
	}

	var single rawStage
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStageDecodeFailure, err)
	}
	return []rawStage{single}, nil
}

func deliveryInfo(e rawStage) *model.DeliveryInfo {
	return &model.DeliveryInfo{Address: e.Address, Instructions: e.Instructions}
}
