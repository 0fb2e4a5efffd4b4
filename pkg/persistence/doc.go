// Package persistence stores the identifiers and configuration a node
// must keep across restarts: the assigned address, pairing state,
// group and auxiliary identifiers and configuration values on a device,
// and the address allocations on a gateway.
//
// Two backends implement Store: FileStore writes one JSON document per
// role into a directory, BoltStore keeps the same documents in a bbolt
// database. Credentials are stored separately by the cert package.
package persistence
