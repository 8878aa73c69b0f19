package script

import (
	"fmt"
	"strings"

	"dev/bravebird/debug-ui-verifier/pkg/models"
)

// Generate renders plan as a standalone go-rod program that performs the same
// steps as the verifier, panicking on the first failure.
func Generate(plan models.Plan) string {
	var sb strings.Builder

	sb.WriteString(`package main

import (
	"log"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

func main() {
	// Launch browser
	u := launcher.New().Headless(true).MustLaunch()
	browser := rod.New().ControlURL(u).MustConnect()
	defer browser.MustClose()

	page := browser.MustPage()
`)
	sb.WriteString(fmt.Sprintf("\ttimeout := %d * time.Millisecond\n\n", plan.Timeout.Milliseconds()))

	step := 1
	writeStep := func(comment string) {
		sb.WriteString(fmt.Sprintf("\t// Step %d: %s\n", step, comment))
		step++
	}

	writeStep("Navigate to page")
	sb.WriteString(fmt.Sprintf("\tpage.MustNavigate(\"%s\").MustWaitLoad()\n\n", escapeString(plan.URL)))

	writeStep("Open settings")
	sb.WriteString(fmt.Sprintf("\tpage.Timeout(timeout).MustElement(\"%s\").MustWaitVisible().MustClick()\n\n",
		escapeSelector(plan.SettingsButton.Selector())))

	writeStep("Enable debug mode")
	sb.WriteString(fmt.Sprintf("\tdebugMode := page.Timeout(timeout).MustElement(\"%s\")\n",
		escapeSelector(plan.DebugModeInput.Selector())))
	sb.WriteString("\tif !debugMode.MustProperty(\"checked\").Bool() {\n")
	sb.WriteString("\t\tdebugMode.MustWaitVisible().MustClick()\n")
	sb.WriteString("\t}\n\n")

	writeStep("Wait for " + plan.DebugArea.Name)
	sb.WriteString(fmt.Sprintf("\tpage.Timeout(timeout).MustElement(\"%s\").MustWaitVisible()\n\n",
		escapeSelector(plan.DebugArea.Selector())))

	for _, el := range plan.SubElements {
		writeStep("Wait for " + el.Name)
		sb.WriteString(fmt.Sprintf("\tpage.Timeout(timeout).MustElement(\"%s\").MustWaitVisible()\n\n",
			escapeSelector(el.Selector())))
	}

	writeStep("Take screenshot")
	sb.WriteString(fmt.Sprintf("\tpage.MustScreenshot%s(\"%s\")\n\n", fullPageSuffix(plan.FullPage), escapeString(plan.ScreenshotPath)))

	sb.WriteString(`	log.Println("Debug UI verified")
}
`)

	return sb.String()
}

func fullPageSuffix(fullPage bool) string {
	if fullPage {
		return "FullPage"
	}
	return ""
}

func escapeSelector(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func escapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	return s
}
