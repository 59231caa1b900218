package schemas

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BrowserToken names one durable browser identity. It keys the session pool,
// the stored fingerprint profile and the on-disk profile directory.
type BrowserToken = uuid.UUID

// ParseBrowserToken parses the canonical textual form of a token.
func ParseBrowserToken(s string) (BrowserToken, error) {
	t, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid browser token %q: %w", s, err)
	}
	return t, nil
}

// Platform is the operating system family a fingerprint impersonates.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
)

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformWindows, PlatformLinux, PlatformMacOS:
		return true
	}
	return false
}

// BrowserBrand is the browser a fingerprint impersonates.
type BrowserBrand string

const (
	BrandChrome  BrowserBrand = "Chrome"
	BrandEdge    BrowserBrand = "Edge"
	BrandOpera   BrowserBrand = "Opera"
	BrandVivaldi BrowserBrand = "Vivaldi"
)

// Valid reports whether b is one of the supported brands.
func (b BrowserBrand) Valid() bool {
	switch b {
	case BrandChrome, BrandEdge, BrandOpera, BrandVivaldi:
		return true
	}
	return false
}

// Profile is the stored fingerprint for a browser token. Only Token and Seed
// are required; empty optional fields are not passed to the browser.
type Profile struct {
	Token               BrowserToken `json:"browser_token"`
	Seed                int32        `json:"fingerprint"`
	Platform            Platform     `json:"fingerprint_platform"`
	PlatformVersion     string       `json:"fingerprint_platform_version,omitempty"`
	Browser             BrowserBrand `json:"fingerprint_browser,omitempty"`
	BrandVersion        string       `json:"fingerprint_brand_version,omitempty"`
	HardwareConcurrency int          `json:"fingerprint_hardware_concurrency,omitempty"`
	GPUVendor           string       `json:"fingerprint_gpu_vendor,omitempty"`
	GPURenderer         string       `json:"fingerprint_gpu_renderer,omitempty"`
	Lang                string       `json:"lang,omitempty"`
	AcceptLang          string       `json:"accept_lang,omitempty"`
	Timezone            string       `json:"timezone,omitempty"`
	ProxyServer         string       `json:"proxy_server,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Validate enforces the pairing rules between related fingerprint fields.
func (p *Profile) Validate() error {
	if p.Platform != "" && !p.Platform.Valid() {
		return fmt.Errorf("%w: unsupported platform %q", ErrInvalidProfile, p.Platform)
	}
	if p.Browser != "" && !p.Browser.Valid() {
		return fmt.Errorf("%w: unsupported browser %q", ErrInvalidProfile, p.Browser)
	}
	if (p.Browser == "") != (p.BrandVersion == "") {
		return fmt.Errorf("%w: fingerprint_browser and fingerprint_brand_version must be both set or both unset", ErrInvalidProfile)
	}
	if (p.GPUVendor == "") != (p.GPURenderer == "") {
		return fmt.Errorf("%w: fingerprint_gpu_vendor and fingerprint_gpu_renderer must be both set or both unset", ErrInvalidProfile)
	}
	if p.HardwareConcurrency < 0 {
		return fmt.Errorf("%w: fingerprint_hardware_concurrency must not be negative", ErrInvalidProfile)
	}
	return nil
}

// ProfilePatch carries a partial update. Nil fields are left untouched.
type ProfilePatch struct {
	Seed                *int32        `json:"fingerprint,omitempty"`
	Platform            *Platform     `json:"fingerprint_platform,omitempty"`
	PlatformVersion     *string       `json:"fingerprint_platform_version,omitempty"`
	Browser             *BrowserBrand `json:"fingerprint_browser,omitempty"`
	BrandVersion        *string       `json:"fingerprint_brand_version,omitempty"`
	HardwareConcurrency *int          `json:"fingerprint_hardware_concurrency,omitempty"`
	GPUVendor           *string       `json:"fingerprint_gpu_vendor,omitempty"`
	GPURenderer         *string       `json:"fingerprint_gpu_renderer,omitempty"`
	Lang                *string       `json:"lang,omitempty"`
	AcceptLang          *string       `json:"accept_lang,omitempty"`
	Timezone            *string       `json:"timezone,omitempty"`
	ProxyServer         *string       `json:"proxy_server,omitempty"`
}

// Apply copies every set field of the patch onto p.
func (pp ProfilePatch) Apply(p *Profile) {
	if pp.Seed != nil {
		p.Seed = *pp.Seed
	}
	if pp.Platform != nil {
		p.Platform = *pp.Platform
	}
	if pp.PlatformVersion != nil {
		p.PlatformVersion = *pp.PlatformVersion
	}
	if pp.Browser != nil {
		p.Browser = *pp.Browser
	}
	if pp.BrandVersion != nil {
		p.BrandVersion = *pp.BrandVersion
	}
	if pp.HardwareConcurrency != nil {
		p.HardwareConcurrency = *pp.HardwareConcurrency
	}
	if pp.GPUVendor != nil {
		p.GPUVendor = *pp.GPUVendor
	}
	if pp.GPURenderer != nil {
		p.GPURenderer = *pp.GPURenderer
	}
	if pp.Lang != nil {
		p.Lang = *pp.Lang
	}
	if pp.AcceptLang != nil {
		p.AcceptLang = *pp.AcceptLang
	}
	if pp.Timezone != nil {
		p.Timezone = *pp.Timezone
	}
	if pp.ProxyServer != nil {
		p.ProxyServer = *pp.ProxyServer
	}
}
