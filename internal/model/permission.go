package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionAnalyticsRead allows viewing any student's analytics and commentary.
	PermissionAnalyticsRead Permission = "analytics:read"

	// PermissionAnalyticsWrite allows uploading exam definitions and answer sheets
	// and invalidating snapshots.
	PermissionAnalyticsWrite Permission = "analytics:write"

	// PermissionAnalyticsRecompute allows triggering the stale-snapshot sweep.
	PermissionAnalyticsRecompute Permission = "analytics:recompute"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionAnalyticsRead,
	PermissionAnalyticsWrite,
	PermissionAnalyticsRecompute,
}
