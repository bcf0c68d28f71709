package rbac

const (
	RoleMember = "member" // interactive session
	RoleAPIKey = "apikey" // programmatic sk_ key
	RoleAdmin  = "admin"
)

const (
	PermFilesUpload   = "files:upload"
	PermFilesList     = "files:list"
	PermFilesDownload = "files:download"
	PermFilesStream   = "files:stream"
	PermFilesDelete   = "files:delete"
)

// RolePermissions is the default policy. API keys cannot delete.
var RolePermissions = map[string][]string{
	RoleMember: {
		"files:*",
	},
	RoleAPIKey: {
		PermFilesUpload,
		PermFilesList,
		PermFilesDownload,
		PermFilesStream,
	},
	RoleAdmin: {
		"*", // everything
	},
}
