// Copyright (C) 2018 Rob Caelers <rob.caelers@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package firmware reads a Nordic DFU distribution package: a ZIP archive
// carrying manifest.json plus the init-packet and firmware-image members it
// names. It is a thin, well-tested collaborator, not a protocol engine.
package firmware

import (
	"archive/zip"
	"encoding/json"
	"io"

	"github.com/dfuctl/nrf-dfu/errkind"
)

// manifest mirrors the subset of the nRF5 SDK's manifest.json this client
// understands: a single application image (init data + binary). Other
// manifest sections (softdevice, bootloader) are not supported, matching
// the application-slot-only scope.
type manifest struct {
	Manifest struct {
		Application struct {
			DatFile string `json:"dat_file"`
			BinFile string `json:"bin_file"`
		} `json:"application"`
	} `json:"manifest"`
}

// Package is an opened DFU distribution archive. Call Close once both
// payload streams have been consumed.
type Package struct {
	zip     *zip.ReadCloser
	datFile *zip.File
	binFile *zip.File
}

// Open reads filename as a ZIP archive, parses manifest.json, and resolves
// the init/firmware member files it names. Any missing or malformed piece
// is a fatal errkind.PackageError.
func Open(filename string) (*Package, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return nil, errkind.New(errkind.PackageError, "failed to open firmware package %q: %v", filename, err)
	}

	pkg := &Package{zip: zr}
	if err := pkg.resolve(); err != nil {
		zr.Close()
		return nil, err
	}
	return pkg, nil
}

func (p *Package) resolve() error {
	manifestFile := p.find("manifest.json")
	if manifestFile == nil {
		return errkind.New(errkind.PackageError, "manifest.json not found in package")
	}

	rc, err := manifestFile.Open()
	if err != nil {
		return errkind.New(errkind.PackageError, "failed to open manifest.json: %v", err)
	}
	defer rc.Close()

	var m manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return errkind.New(errkind.PackageError, "failed to parse manifest.json: %v", err)
	}

	if m.Manifest.Application.DatFile == "" || m.Manifest.Application.BinFile == "" {
		return errkind.New(errkind.PackageError, "manifest.json does not name an application dat_file/bin_file")
	}

	p.datFile = p.find(m.Manifest.Application.DatFile)
	if p.datFile == nil {
		return errkind.New(errkind.PackageError, "manifest-referenced init file %q not found in package", m.Manifest.Application.DatFile)
	}
	if p.datFile.UncompressedSize64 == 0 {
		return errkind.New(errkind.PackageError, "init file %q is empty", m.Manifest.Application.DatFile)
	}

	p.binFile = p.find(m.Manifest.Application.BinFile)
	if p.binFile == nil {
		return errkind.New(errkind.PackageError, "manifest-referenced firmware file %q not found in package", m.Manifest.Application.BinFile)
	}
	if p.binFile.UncompressedSize64 == 0 {
		return errkind.New(errkind.PackageError, "firmware file %q is empty", m.Manifest.Application.BinFile)
	}

	return nil
}

func (p *Package) find(name string) *zip.File {
	for _, f := range p.zip.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// InitPayload returns a fresh cursor over the init-packet member.
func (p *Package) InitPayload() (*MemberPayload, error) {
	return newMemberPayload(p.datFile)
}

// FirmwarePayload returns a fresh cursor over the firmware-image member.
func (p *Package) FirmwarePayload() (*MemberPayload, error) {
	return newMemberPayload(p.binFile)
}

// Close releases the underlying archive. The driver calls this after
// DfuEngine.Run returns, per the package lifecycle rule.
func (p *Package) Close() error {
	return p.zip.Close()
}

// MemberPayload adapts one archive member to engine.Payload: a Reader with
// a known total size.
type MemberPayload struct {
	rc   io.ReadCloser
	size int64
}

func newMemberPayload(f *zip.File) (*MemberPayload, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errkind.New(errkind.PackageError, "failed to open package member %q: %v", f.Name, err)
	}
	return &MemberPayload{rc: rc, size: int64(f.UncompressedSize64)}, nil
}

func (m *MemberPayload) Read(p []byte) (int, error) {
	return m.rc.Read(p)
}

// Size returns the member's uncompressed length, satisfying engine.Payload.
func (m *MemberPayload) Size() int64 {
	return m.size
}

// Close releases the member's decompressor. The engine does not call this
// (it reads each payload fully, once); the driver may call it for symmetry
// after Run returns, though Package.Close releases the whole archive
// regardless.
func (m *MemberPayload) Close() error {
	return m.rc.Close()
}
