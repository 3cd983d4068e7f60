package wal

import "crypto/rand"

// randRead fills b with random bytes, used to seed a new WAL header's
// salts. A package-level var so tests can stub it deterministically.
var randRead = rand.Read
