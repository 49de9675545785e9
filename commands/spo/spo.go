// Package spo holds the SharePoint Online commands.
package spo

import (
	"fmt"
	"net/url"
	"strings"

	"m365cli/command"
)

// Commands returns the spo commands.
func Commands() []*command.Command {
	return []*command.Command{
		groupMemberAdd(),
		listViewAdd(),
	}
}

const (
	acceptNoMetadata   = "application/json;odata=nometadata"
	contentTypeVerbose = "application/json;odata=verbose"
)

// validateWebURL rejects a webUrl that is not a SharePoint Online site.
func validateWebURL(opts command.Options) string {
	if webURL := opts.String("webUrl"); !command.IsValidSharePointURL(webURL) {
		return fmt.Sprintf("'%s' is not a valid SharePoint Online site URL", webURL)
	}
	return ""
}

// serverRelativePath returns the server relative path of a site relative, server
// relative or absolute url.
func serverRelativePath(webURL, u string) string {
	if parsed, err := url.Parse(u); err == nil && parsed.IsAbs() {
		return parsed.Path
	}
	webPath := "/"
	if parsed, err := url.Parse(webURL); err == nil {
		webPath = "/" + strings.Trim(parsed.Path, "/")
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	if webPath == "/" || strings.HasPrefix(strings.ToLower(u), strings.ToLower(webPath)+"/") {
		return u
	}
	return webPath + u
}
