package campaign

import (
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z][A-Za-z0-9_]*)\}`)

// Render substitutes {name} placeholders from vars. A placeholder with no
// value renders as the empty string, so a typo never reaches a recipient as
// literal braces. Text that is not a well-formed placeholder, such as "{ }"
// or "{1}", is left as is.
func Render(tmpl string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		return vars[m[1:len(m)-1]]
	})
}

// Variables returns the template variables for one recipient of c
func Variables(c Campaign, r Recipient) map[string]string {
	first := ""
	if fields := strings.Fields(r.Name); len(fields) > 0 {
		first = fields[0]
	}
	return map[string]string{
		"parentName":   r.Name,
		"firstName":    first,
		"parentEmail":  r.Email,
		"parentPhone":  r.Phone,
		"programName":  c.ProgramName,
		"campaignName": c.Name,
	}
}
