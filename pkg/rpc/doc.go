// Package rpc maps remote procedure calls onto BLE GATT operations over a single
// peripheral connection.
//
// A Method names a service, a characteristic, an optional descriptor and a
// MethodKind. Read and Write calls become one characteristic read or write;
// Subscribe calls share one physical notification enable per characteristic and
// receive one callback per notification until they are canceled.
//
// The Channel is an actor: every public entry point and every adapter event is
// posted to a single worker Executor, so channel state needs no locks. Results
// are delivered on a separate listener Executor. At most one GATT operation is
// outstanding at any time.
package rpc
