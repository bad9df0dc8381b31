package redis

// Key prefixes for primary entity storage.
const (
	prefixInstallation = "courier:int:"
	prefixJob          = "courier:job:"
	prefixRecord       = "courier:rec:"
	prefixDLQ          = "courier:dlq:"
)

// Key prefixes for unique indexes.
const (
	uniqueInstallationTeam = "courier:u:int:team:" // + teamID + ":" + provider
	uniqueJobDedup         = "courier:u:job:dedup:"
)

// Key prefixes for sorted set indexes.
const (
	zJobDue       = "courier:z:job:due"
	zJobCompleted = "courier:z:job:completed"
	zJobDest      = "courier:z:job:dest:" // + destination ID
	zJobInst      = "courier:z:job:inst:" // + installation ID
	zRecordAll    = "courier:z:rec:all"
	zRecordDest   = "courier:z:rec:dest:" // + destination ID
	zDLQAll       = "courier:z:dlq:all"
)

// Key prefixes for set indexes.
const (
	sInstallationTeam = "courier:s:int:team:" // + team ID
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// installationUniqueKey returns the unique index key for a (team, provider)
// pair.
func installationUniqueKey(teamID, provider string) string {
	return uniqueInstallationTeam + teamID + ":" + provider
}

// jobInstallationID extracts the installation part of a destination ID.
// Channel destinations are "<installationID>/<channelID>"; flat destinations
// are the installation ID itself.
func jobInstallationID(destinationID string) string {
	for i := 0; i < len(destinationID); i++ {
		if destinationID[i] == '/' {
			return destinationID[:i]
		}
	}
	return destinationID
}
