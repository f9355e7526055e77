package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/signalsfoundry/cellular-simulator/model"
)

// TransceiverModel describes the antenna side of the free-space link
// budget. Zero gains mean isotropic antennas.
type TransceiverModel struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	GainTxDBi float64 `json:"gain_tx_dbi,omitempty" yaml:"gain_tx_dbi,omitempty"`
	GainRxDBi float64 `json:"gain_rx_dbi,omitempty" yaml:"gain_rx_dbi,omitempty"`

	// CableLossDB is a fixed feeder loss subtracted from every link.
	CableLossDB float64 `json:"cable_loss_db,omitempty" yaml:"cable_loss_db,omitempty"`
}

// NetGainDB is the total gain the transceiver adds to a link budget.
func (tm TransceiverModel) NetGainDB() float64 {
	return tm.GainTxDBi + tm.GainRxDBi - tm.CableLossDB
}

// ErrUnknownTransceiver indicates a transceiver id missing from a catalogue.
var ErrUnknownTransceiver = errors.New("unknown transceiver model")

// LoadTransceiverModels decodes a JSON array of transceiver models. Ids
// must be non-empty and unique.
func LoadTransceiverModels(r io.Reader) ([]TransceiverModel, error) {
	var trxs []TransceiverModel
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&trxs); err != nil {
		return nil, fmt.Errorf("decode transceiver models: %w", err)
	}
	seen := make(map[string]struct{}, len(trxs))
	for _, trx := range trxs {
		if trx.ID == "" {
			return nil, fmt.Errorf("%w: transceiver without id", model.ErrInvalidConfig)
		}
		if _, dup := seen[trx.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate transceiver id %q", model.ErrInvalidConfig, trx.ID)
		}
		seen[trx.ID] = struct{}{}
	}
	return trxs, nil
}

// FindTransceiver returns the model with the given id.
func FindTransceiver(trxs []TransceiverModel, id string) (TransceiverModel, error) {
	for _, trx := range trxs {
		if trx.ID == id {
			return trx, nil
		}
	}
	return TransceiverModel{}, fmt.Errorf("%w: %q", ErrUnknownTransceiver, id)
}
