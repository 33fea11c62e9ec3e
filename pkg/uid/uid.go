// Package uid reads the 96-bit factory unique identifier of an STM32.
// On the host a stable identifier is derived from the machine id so
// simulated boards keep their identity across runs.
package uid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/denisbrodbeck/machineid"
	"github.com/roffe/canfw/pkg/hw"
)

// UID is the identifier as three 32-bit words, lowest address first.
type UID [3]uint32

// Registers is the read-only block at UID_BASE.
type Registers struct {
	Word [3]hw.Reg32
}

func Read(r *Registers) UID {
	return UID{r.Word[0].Get(), r.Word[1].Get(), r.Word[2].Get()}
}

// Load programs a modelled block.
func (r *Registers) Load(u UID) {
	for i, w := range u {
		r.Word[i].Set(w)
	}
}

func (u UID) String() string {
	return fmt.Sprintf("%08X-%08X-%08X", u[0], u[1], u[2])
}

// Bytes returns the identifier little endian, as it sits in memory.
func (u UID) Bytes() [12]byte {
	var b [12]byte
	for i, w := range u {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

// Short folds the identifier into 32 bits.
func (u UID) Short() uint32 {
	return u[0] ^ u[1] ^ u[2]
}

// FromMachine derives an identifier from the host machine id, keyed by
// app so different tools see different identifiers.
func FromMachine(app string) (UID, error) {
	id, err := machineid.ProtectedID(app)
	if err != nil {
		return UID{}, fmt.Errorf("machine id: %w", err)
	}
	return parseHex(id)
}

func parseHex(s string) (UID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return UID{}, fmt.Errorf("machine id: %w", err)
	}
	if len(raw) < 12 {
		return UID{}, fmt.Errorf("machine id: %d bytes, need 12", len(raw))
	}
	var u UID
	for i := range u {
		u[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return u, nil
}
