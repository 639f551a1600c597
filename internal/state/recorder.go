// ./internal/state/recorder.go
package state

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/loopyield/lfm/internal/types"
)

// Recorder adapts the package-level store functions to the narrow interfaces
// the position manager and trade trigger persist through.
type Recorder struct{}

// NewRecorder returns a database-backed recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (Recorder) SavePosition(p types.Position) error {
	return SavePosition(p)
}

func (Recorder) DeletePosition(owner common.Address) error {
	return DeletePosition(owner)
}

func (Recorder) SaveHarvest(r types.HarvestReceipt) (int64, error) {
	return SaveHarvestReceipt(r)
}

func (Recorder) SaveUnwind(r types.UnwindReceipt) (int64, error) {
	return SaveUnwindReceipt(r)
}

// Increment implements the trade trigger's counter store against the
// persistent trade_counters table.
func (Recorder) Increment(id types.CertificateID) (uint64, error) {
	return IncrementTradeCounter(id)
}

// SetAuthorization implements the trade trigger's pool store against the
// persistent authorized_pools table.
func (Recorder) SetAuthorization(pool common.Address, authorized bool) error {
	return SetPoolAuthorization(pool, authorized)
}
