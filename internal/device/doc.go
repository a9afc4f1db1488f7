// Package device defines the GATT adapter boundary used by the RPC channel.
//
// This package describes, without implementing, the platform driver:
//   - Connection lifecycle (connect, service discovery, close)
//   - GATT lookups for services, characteristics and descriptors
//   - Characteristic read/write and descriptor writes with async completion
//   - Value-change notifications reported through Events
//
// Every operation that touches the radio is asynchronous: the Adapter
// accepts or rejects the request immediately and reports completion later
// through the Events it was connected with. The go-ble subpackage provides
// the production implementation.
package device
