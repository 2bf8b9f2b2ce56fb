// Package audit implements the tamper-evident, append-only audit log.
//
// The log is a JSON Lines file. Each line is one Entry:
//
//	{"id":1,"timestamp":1767225600000,"event":"VEHICLE_REGISTERED",
//	 "details":"vehicleId=v1, type=E_SCOOTER","previousChecksum":"GENESIS",
//	 "checksum":"9f2c..."}
//
// Entries form a hash chain. The checksum of an entry is the lowercase hex
// SHA-256 of
//
//	id|timestamp|event|details|previousChecksum
//
// and previousChecksum is the checksum of the preceding entry, or the
// literal "GENESIS" for the first one. Ids are 1..N with no gaps.
//
// Open replays and verifies the existing file before accepting appends.
// Any broken link, recomputation mismatch, or id gap fails Open with an
// *IntegrityError, and the process is expected to refuse to start.
//
// Append is serialized by a single mutex: id allocation, checksum
// computation, the durable write, and the chain-head update form one
// critical section. State only advances after the line is written.
package audit
