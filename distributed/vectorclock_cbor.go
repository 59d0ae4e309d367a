// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import "github.com/tgcryptfs/tgcryptfs/internal/codec"

// MarshalCBOR implements cbor.Marshaler so VectorClock serializes as a
// deterministically ordered list of (machine_id, timestamp) pairs
// rather than a map, whose key order CBOR's Core Deterministic
// Encoding would otherwise fix by byte value, not creation order —
// a list keeps the wire form legible in diagnostic dumps.
func (v *VectorClock) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(v.toSnapshot())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (v *VectorClock) UnmarshalCBOR(data []byte) error {
	var entries clockSnapshot
	if err := codec.Unmarshal(data, &entries); err != nil {
		return err
	}
	*v = *fromSnapshot(entries)
	return nil
}
