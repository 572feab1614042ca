package portal

// The portal ships no stable API, so every flow is keyed off selector
// candidate lists tried in order. The page markup drifts between portal
// releases; widening a list here is the expected fix.
var (
	usernameSelectors    = []string{"#username", "input[name='username']", "input[type='email']", "#email"}
	passwordSelectors    = []string{"#password", "input[name='password']", "input[type='password']"}
	loginSubmitSelectors = []string{"button[type='submit']", "input[type='submit']", "#login-button", ".login-btn"}
	loggedInSelectors    = []string{".user-menu", "#logout", "a[href*='logout']", ".dashboard-header"}
	loginErrorSelectors  = []string{".error-message", ".alert-danger", "#login-error", ".login-error"}

	searchDateSelectors     = []string{"#booking-date", "input[name='date']", "#date"}
	searchStartSelectors    = []string{"#start-time", "input[name='start_time']", "#time-from"}
	searchEndSelectors      = []string{"#end-time", "input[name='end_time']", "#time-to"}
	searchCapacitySelectors = []string{"#capacity", "input[name='capacity']", "select[name='capacity']"}
	searchSubmitSelectors   = []string{"#search-button", "button[type='submit']", ".search-btn"}

	resultsTableSelectors = []string{"#results-table", ".results-table", "table.rooms", "#room-results"}
	noResultsSelectors    = []string{".no-results", "#no-results", ".empty-results"}

	bookingConfirmSelectors = []string{"#confirm-booking", ".confirm-btn", "button[name='confirm']"}
	bookingPurposeSelectors = []string{"#purpose", "input[name='purpose']", "textarea[name='purpose']"}
	confirmationSelectors   = []string{".confirmation-ref", "#confirmation-number", ".booking-reference"}
	conflictSelectors       = []string{".conflict-error", ".booking-conflict", ".alert-warning"}
	bookingErrorSelectors   = []string{".booking-error", ".alert-danger", ".error-message"}
	logoutSelectors         = []string{"#logout", "a[href*='logout']", ".logout-btn"}
)

func amenitySelectors(amenity string) []string {
	return []string{
		"input[name='amenity'][value='" + amenity + "']",
		"#amenity-" + amenity,
		"input[name='" + amenity + "']",
	}
}
