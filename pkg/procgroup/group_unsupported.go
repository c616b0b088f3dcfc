//go:build !unix && !windows

package procgroup

import "github.com/go-localmodel/pkg/utils"

func newGroup(*utils.Logger) (Group, error) {
	return nil, ErrPlatformUnsupported
}
