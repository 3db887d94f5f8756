// Package shaders embeds the engine's built-in WGSL sources.
package shaders

import "embed"

// FS holds every built-in stage source and include, rooted at this directory.
//
//go:embed *.wgsl common/*.wgsl
var FS embed.FS
