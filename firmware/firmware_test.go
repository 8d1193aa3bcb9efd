package firmware

import (
	"archive/zip"
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfuctl/nrf-dfu/errkind"
)

func buildPackage(t *testing.T, manifestJSON string, files map[string][]byte) string {
	t.Helper()

	f, err := ioutil.TempFile("", "dfu-pkg-*.zip")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(f.Name()) })

	zw := zip.NewWriter(f)
	if manifestJSON != "" {
		w, err := zw.Create("manifest.json")
		require.NoError(t, err)
		_, err = w.Write([]byte(manifestJSON))
		require.NoError(t, err)
	}
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	return f.Name()
}

const validManifest = `{
  "manifest": {
    "application": {
      "dat_file": "app.dat",
      "bin_file": "app.bin"
    }
  }
}`

func TestOpenReadsBothPayloads(t *testing.T) {
	datBytes := []byte("init-packet-bytes")
	binBytes := bytes.Repeat([]byte{0x5A}, 200)

	path := buildPackage(t, validManifest, map[string][]byte{
		"app.dat": datBytes,
		"app.bin": binBytes,
	})

	pkg, err := Open(path)
	require.NoError(t, err)
	defer pkg.Close()

	init, err := pkg.InitPayload()
	require.NoError(t, err)
	assert.Equal(t, int64(len(datBytes)), init.Size())
	got, err := io.ReadAll(init)
	require.NoError(t, err)
	assert.Equal(t, datBytes, got)

	fw, err := pkg.FirmwarePayload()
	require.NoError(t, err)
	assert.Equal(t, int64(len(binBytes)), fw.Size())
	got, err = io.ReadAll(fw)
	require.NoError(t, err)
	assert.Equal(t, binBytes, got)
}

func TestOpenMissingManifestIsPackageError(t *testing.T) {
	path := buildPackage(t, "", map[string][]byte{"app.dat": {0x01}, "app.bin": {0x02}})

	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PackageError))
}

func TestOpenMalformedManifestIsPackageError(t *testing.T) {
	path := buildPackage(t, "{not json", map[string][]byte{"app.dat": {0x01}, "app.bin": {0x02}})

	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PackageError))
}

func TestOpenMissingMemberIsPackageError(t *testing.T) {
	path := buildPackage(t, validManifest, map[string][]byte{"app.dat": {0x01}})

	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PackageError))
}

func TestOpenEmptyInitFileIsPackageError(t *testing.T) {
	path := buildPackage(t, validManifest, map[string][]byte{"app.dat": {}, "app.bin": {0x02}})

	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PackageError))
}

func TestOpenEmptyFirmwareFileIsPackageError(t *testing.T) {
	path := buildPackage(t, validManifest, map[string][]byte{"app.dat": {0x01}, "app.bin": {}})

	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PackageError))
}

func TestOpenNoSuchFile(t *testing.T) {
	_, err := Open("/nonexistent/path/to/package.zip")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PackageError))
}
