// device.go derives device, browser and OS facts from the user agent.

package pulse

import (
	"regexp"
	"strings"

	"github.com/mssola/useragent"
)

// SmallScreenWidth is the widest screen still treated as a phone when the
// user agent also looks like a tablet.
const SmallScreenWidth = 768

var (
	tabletPattern  = regexp.MustCompile(`(?i)tablet|ipad|playbook|silk`)
	androidPattern = regexp.MustCompile(`(?i)android`)
	mobiPattern    = regexp.MustCompile(`(?i)mobi`)
	mobilePattern  = regexp.MustCompile(`Mobile|Android|iP(hone|od)|IEMobile|BlackBerry|Kindle|Silk-Accelerated|(hpw|web)OS|Opera M(obi|ini)`)
)

type marker struct {
	name    string
	match   *regexp.Regexp
	exclude *regexp.Regexp
	version *regexp.Regexp
}

// Order matters: Edge and Chrome both claim Chrome and Safari.
var browserMarkers = []marker{
	{name: "Edge", match: regexp.MustCompile(`Edg(e|A|iOS)?/`), version: regexp.MustCompile(`Edg(?:e|A|iOS)?/([\d.]+)`)},
	{name: "Firefox", match: regexp.MustCompile(`Firefox/|FxiOS/`), version: regexp.MustCompile(`(?:Firefox|FxiOS)/([\d.]+)`)},
	{name: "Chrome", match: regexp.MustCompile(`Chrome/|CriOS/`), version: regexp.MustCompile(`(?:Chrome|CriOS)/([\d.]+)`)},
	{name: "Safari", match: regexp.MustCompile(`Safari/`), exclude: regexp.MustCompile(`Chrome|Chromium|CriOS`), version: regexp.MustCompile(`Version/([\d.]+)`)},
	{name: "Internet Explorer", match: regexp.MustCompile(`MSIE |Trident/`), version: regexp.MustCompile(`(?:MSIE |rv:)([\d.]+)`)},
}

var windowsVersions = map[string]string{
	"10.0": "10",
	"6.3":  "8.1",
	"6.2":  "8",
	"6.1":  "7",
	"6.0":  "Vista",
	"5.1":  "XP",
}

var (
	windowsPattern = regexp.MustCompile(`Windows NT ([\d.]+)`)
	iosPattern     = regexp.MustCompile(`iPhone|iPad|iPod`)
	iosVersion     = regexp.MustCompile(`OS (\d+[_.]\d+(?:[_.]\d+)?)`)
	androidVersion = regexp.MustCompile(`Android ([\d.]+)`)
	macPattern     = regexp.MustCompile(`Mac OS X`)
	macVersion     = regexp.MustCompile(`Mac OS X (\d+[_.]\d+(?:[_.]\d+)?)`)
	linuxPattern   = regexp.MustCompile(`Linux`)
)

// DetectDevice classifies the device and extracts browser and OS names and
// versions. It is pure: the same inputs always give the same Device.
func DetectDevice(userAgent string, screenWidth int) Device {
	browser, browserVersion := detectBrowser(userAgent)
	osName, osVersion := detectOS(userAgent)

	return Device{
		Type:           detectDeviceType(userAgent, screenWidth),
		Browser:        browser,
		BrowserVersion: browserVersion,
		OS:             osName,
		OSVersion:      osVersion,
		Bot:            userAgent != "" && useragent.New(userAgent).Bot(),
	}
}

func detectDeviceType(ua string, screenWidth int) DeviceType {
	tablet := tabletPattern.MatchString(ua) ||
		(androidPattern.MatchString(ua) && !mobiPattern.MatchString(ua))
	if tablet {
		// Small Android phones also match the generic tablet heuristics.
		if screenWidth > 0 && screenWidth <= SmallScreenWidth {
			return DeviceMobile
		}
		return DeviceTablet
	}
	if mobilePattern.MatchString(ua) {
		return DeviceMobile
	}
	return DeviceDesktop
}

func detectBrowser(ua string) (string, string) {
	for _, m := range browserMarkers {
		if !m.match.MatchString(ua) {
			continue
		}
		if m.exclude != nil && m.exclude.MatchString(ua) {
			continue
		}
		return m.name, submatch(m.version, ua)
	}
	return Unknown, Unknown
}

func detectOS(ua string) (string, string) {
	switch {
	case windowsPattern.MatchString(ua):
		nt := submatch(windowsPattern, ua)
		if v, ok := windowsVersions[nt]; ok {
			return "Windows", v
		}
		return "Windows", Unknown
	case iosPattern.MatchString(ua):
		return "iOS", dotted(submatch(iosVersion, ua))
	case androidPattern.MatchString(ua):
		return "Android", submatch(androidVersion, ua)
	case macPattern.MatchString(ua):
		return "macOS", dotted(submatch(macVersion, ua))
	case linuxPattern.MatchString(ua):
		return "Linux", Unknown
	}
	return Unknown, Unknown
}

func submatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 || m[1] == "" {
		return Unknown
	}
	return m[1]
}

func dotted(v string) string {
	return strings.ReplaceAll(v, "_", ".")
}
