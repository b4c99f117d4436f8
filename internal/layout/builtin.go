package layout

import (
	"net/url"
	"strings"

	"github.com/any-hub/pkg-restore/internal/identity"
)

func init() {
	MustRegister(Layout{
		Key:         defaultLayoutKey,
		Description: "{name}/{version}/{name}.{version}.{ext}, identity kept as declared",
		Path:        artifactoryPath,
	})
	MustRegister(Layout{
		Key:         "flatcontainer",
		Description: "NuGet v3 flat container, lower-cased id and version",
		Path:        flatContainerPath,
	})
}

func artifactoryPath(id identity.Identity, ext string) string {
	name := url.PathEscape(id.Name)
	version := url.PathEscape(id.Version)
	return name + "/" + version + "/" + name + "." + version + "." + ext
}

func flatContainerPath(id identity.Identity, ext string) string {
	lowered := identity.Identity{
		Name:    strings.ToLower(id.Name),
		Version: strings.ToLower(id.Version),
	}
	return artifactoryPath(lowered, ext)
}
