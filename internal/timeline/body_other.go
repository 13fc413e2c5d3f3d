//go:build !unix

package timeline

func openBody(path string) (body, error) {
	return openFileBody(path)
}
