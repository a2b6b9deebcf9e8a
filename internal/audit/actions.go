package audit

// Actions recorded for the session lifecycle.
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionLoginFailure   = "login_failure"
	ActionRefresh        = "refresh"
	ActionLogout         = "logout"
	ActionLogoutAll      = "logout_all"
	ActionSessionEvicted = "session_evicted"
)

// Resources an action applies to.
const (
	ResourceUser    = "user"
	ResourceSession = "session"
)
