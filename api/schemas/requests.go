package schemas

// -- Browser Control DTOs --

// OpenURLRequest opens url on a fresh page of the token's session.
type OpenURLRequest struct {
	BrowserToken BrowserToken `json:"browser_token"`
	URL          string       `json:"url"`
	Headless     *bool        `json:"headless,omitempty"`
}

type OpenURLResponse struct {
	Title      string `json:"title"`
	CurrentURL string `json:"current_url"`
}

// ScreenshotRequest captures a fresh page of the token's session.
type ScreenshotRequest struct {
	BrowserToken BrowserToken     `json:"browser_token"`
	FullPage     *bool            `json:"full_page,omitempty"`
	Headless     *bool            `json:"headless,omitempty"`
	Type         ScreenshotFormat `json:"type,omitempty"`
}

type ScreenshotResponse struct {
	ImageBase64 string `json:"image_base64"`
}

type ReleaseRequest struct {
	BrowserToken BrowserToken `json:"browser_token"`
}

type ReleaseResponse struct {
	BrowserToken BrowserToken `json:"browser_token"`
	IsSuccess    bool         `json:"is_success"`
}

// -- Live View DTOs --

type LiveCreateRequest struct {
	BrowserToken BrowserToken `json:"browser_token"`
	Headless     *bool        `json:"headless,omitempty"`
}

type LiveCreateResponse struct {
	LiveID  string `json:"live_id"`
	LiveURL string `json:"live_url"`
}

type LiveStopResponse struct {
	LiveID  string `json:"live_id"`
	Stopped bool   `json:"stopped"`
}

// -- Fingerprint DTOs --

type ProfileDeleteResponse struct {
	BrowserToken BrowserToken `json:"browser_token"`
	IsSuccess    bool         `json:"is_success"`
}

// BoolOr dereferences b, falling back to def when unset.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// ProfileTokenRequest addresses a stored profile by token (read and delete).
type ProfileTokenRequest struct {
	BrowserToken BrowserToken `json:"browser_token"`
}

// ProfileUpdateRequest patches the profile stored under BrowserToken.
type ProfileUpdateRequest struct {
	BrowserToken BrowserToken `json:"browser_token"`
	ProfilePatch
}

type ProfileUpdateResponse struct {
	BrowserToken BrowserToken `json:"browser_token"`
	IsSuccess    bool         `json:"is_success"`
}

// StandardResponse is the envelope of every HTTP reply. Code is 0 on success
// and mirrors the HTTP status otherwise.
type StandardResponse struct {
	Code int    `json:"code"`
	Data any    `json:"data"`
	Msg  string `json:"msg"`
}
