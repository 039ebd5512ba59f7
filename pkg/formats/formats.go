// Package formats reads and writes the 3D scene files cleaned by glbclean.
package formats

// Note: glTF 2.0 (.gltf and .glb) is implemented in gltf.go
