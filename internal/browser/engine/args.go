package engine

import (
	"runtime"
	"strconv"

	"github.com/xkilldash9x/rpa-browser/api/schemas"
)

// baselineArgs are passed to every launched browser ahead of the profile
// flags. They disable telemetry and background services and remove the
// common automation tells.
var baselineArgs = []string{
	"--incognito",
	"--accept-lang=en-US",
	"--lang=en-US",
	"--no-pings",
	"--mute-audio",
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-cloud-import",
	"--disable-gesture-typing",
	"--disable-offer-store-unmasked-wallet-cards",
	"--disable-offer-upload-credit-cards",
	"--disable-print-preview",
	"--disable-voice-input",
	"--disable-wake-on-wifi",
	"--disable-cookie-encryption",
	"--ignore-gpu-blocklist",
	"--enable-async-dns",
	"--enable-simple-cache-backend",
	"--enable-tcp-fast-open",
	"--prerender-from-omnibox=disabled",
	"--enable-web-bluetooth",
	"--disable-features=AudioServiceOutOfProcess,IsolateOrigins,site-per-process,TranslateUI,BlinkGenPropertyTrees",
	"--aggressive-cache-discard",
	"--disable-extensions",
	"--disable-ipc-flooding-protection",
	"--disable-blink-features=AutomationControlled",
	"--test-type",
	"--enable-features=NetworkService,NetworkServiceInProcess,TrustTokens,TrustTokensAlwaysAllowIssuance",
	"--disable-component-extensions-with-background-pages",
	"--disable-default-apps",
	"--disable-breakpad",
	"--disable-component-update",
	"--disable-domain-reliability",
	"--disable-sync",
	"--disable-client-side-phishing-detection",
	"--disable-hang-monitor",
	"--disable-popup-blocking",
	"--disable-prompt-on-repost",
	"--metrics-recording-only",
	"--safebrowsing-disable-auto-update",
	"--password-store=basic",
	"--autoplay-policy=no-user-gesture-required",
	"--use-mock-keychain",
	"--force-webrtc-ip-handling-policy=disable_non_proxied_udp",
	"--webrtc-ip-handling-policy=disable_non_proxied_udp",
	"--disable-session-crashed-bubble",
	"--disable-crash-reporter",
	"--disable-dev-shm-usage",
	"--force-color-profile=srgb",
	"--disable-translate",
	"--disable-background-networking",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-infobars",
	"--hide-scrollbars",
	"--disable-renderer-backgrounding",
	"--font-render-hinting=none",
	"--disable-logging",
	"--enable-surface-synchronization",
	"--run-all-compositor-stages-before-draw",
	"--disable-threaded-animation",
	"--disable-threaded-scrolling",
	"--disable-checker-imaging",
	"--disable-new-content-rendering-timeout",
	"--disable-image-animation-resync",
	"--disable-partial-raster",
	"--blink-settings=primaryHoverType=2,availableHoverTypes=2,primaryPointerType=4,availablePointerTypes=4",
	"--disable-layer-tree-host-memory-pressure",
}

// BaselineArgs returns a copy of the fixed launch flags.
func BaselineArgs() []string {
	out := make([]string, len(baselineArgs))
	copy(out, baselineArgs)
	return out
}

// gpuSpoofOS is the only host family where the fingerprint build honours
// the GPU vendor/renderer switches.
const gpuSpoofOS = "linux"

// ProfileArgs renders the non-empty fields of p as launch flags, in a fixed
// order. GPU flags are dropped unless goos supports them.
func ProfileArgs(p *schemas.Profile, goos string) []string {
	if p == nil {
		return nil
	}
	var args []string
	add := func(flag, value string) {
		if value != "" {
			args = append(args, "--"+flag+"="+value)
		}
	}

	if p.Seed != 0 {
		add("fingerprint", strconv.FormatInt(int64(p.Seed), 10))
	}
	add("fingerprint-platform", string(p.Platform))
	add("fingerprint-platform-version", p.PlatformVersion)
	add("fingerprint-browser", string(p.Browser))
	add("fingerprint-brand-version", p.BrandVersion)
	if p.HardwareConcurrency > 0 {
		add("fingerprint-hardware-concurrency", strconv.Itoa(p.HardwareConcurrency))
	}
	if goos == gpuSpoofOS {
		add("fingerprint-gpu-vendor", p.GPUVendor)
		add("fingerprint-gpu-renderer", p.GPURenderer)
	}
	add("lang", p.Lang)
	add("accept-lang", p.AcceptLang)
	add("timezone", p.Timezone)
	add("proxy-server", p.ProxyServer)
	return args
}

// MergeArgs builds the full argument list: baseline, then the extra
// configured flags, then the profile flags for the current host.
func MergeArgs(p *schemas.Profile, extra []string) []string {
	return mergeArgs(p, extra, runtime.GOOS)
}

func mergeArgs(p *schemas.Profile, extra []string, goos string) []string {
	args := BaselineArgs()
	args = append(args, extra...)
	return append(args, ProfileArgs(p, goos)...)
}
