// Package ident derives a stable instance identifier so audit rows can be
// traced back to the machine that produced them.
package ident

import (
	"log"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

// appID salts the hardware ID so the result is unique to this application.
const appID = "perpbot"

// InstanceID returns a stable per-machine identifier. When the hardware ID
// is unavailable (containers, stripped-down hosts) it falls back to a
// random ID that lives for the process lifetime.
func InstanceID() string {
	id, err := machineid.ProtectedID(appID)
	if err == nil {
		return id
	}
	log.Printf("[ident] machine id unavailable, using ephemeral id: %v", err)
	return "ephemeral-" + uuid.NewString()
}
