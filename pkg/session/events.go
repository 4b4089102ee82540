package session

// Server-to-client event names on the real-time channel.
const (
	EventEnrollmentReady     = "enrollment_ready"
	EventEnrollmentStatus    = "enrollment_status"
	EventEnrollmentSucceeded = "enrollment_succeeded"
	EventEnrollmentError     = "enrollment_error"
	EventLoginStatus         = "login_status"
	EventPinDigitUpdate      = "pin_digit_update"
	EventPinFramePreview     = "pin_frame_preview"
	EventLoginResult         = "login_result"
)

// Login status values carried by EventLoginStatus.
const (
	StatusRecognizing = "recognizing"
	StatusPinEntry    = "pin_entry"
	StatusVerifying   = "verifying"
	StatusError       = "error"
)

// MessagePayload carries a plain status or error message.
type MessagePayload struct {
	Message string `json:"message"`
}

// EnrollmentSucceededPayload reports where the captured face was stored.
type EnrollmentSucceededPayload struct {
	ImagePath string `json:"image_path"`
}

// LoginStatusPayload is the login flow's status update.
type LoginStatusPayload struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	User         string `json:"user,omitempty"`
	CurrentDigit string `json:"current_digit,omitempty"`
	PinSoFar     string `json:"pin_so_far,omitempty"`
}

// PinDigitPayload announces the digit now under the cursor.
type PinDigitPayload struct {
	CurrentDigit string `json:"current_digit"`
	PinSoFar     string `json:"pin_so_far"`
}

// PinFramePayload streams the annotated preview frame during PIN entry.
type PinFramePayload struct {
	ImageData    string `json:"image_data"`
	CurrentDigit string `json:"current_digit"`
	PinSoFar     string `json:"pin_so_far"`
}

// LoginResultPayload is the terminal outcome of a login attempt. Token is
// set only on success and is redeemed once at the confirm-login endpoint.
type LoginResultPayload struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}
