// Package transform holds the camera models used to project points onto image grids.
package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromJSONFile takes in a file path to a JSON and turns it into PinholeCameraIntrinsics.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (intrinsics *PinholeCameraIntrinsics, err error) {
	jsonFile, err := os.Open(filepath.Clean(jsonPath))
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer func() {
		err = multierr.Combine(err, jsonFile.Close())
	}()
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	intrinsics = &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return intrinsics, nil
}

// PixelToPoint transforms a pixel with depth to a 3D point.
// The intrinsics parameters should be the ones of the sensor used to obtain the image that
// contains the pixel.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return float64(0), float64(0), float64(0)
	}
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return xOverZ * z, yOverZ * z, z
}

// PointToPixel projects a 3D point to the nearest pixel in an image plane.
// The intrinsics parameters should be the ones of the sensor we want to project to.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		xPx := math.Round((x/z)*params.Fx + params.Ppx)
		yPx := math.Round((y/z)*params.Fy + params.Ppy)
		return xPx, yPx
	}
	// if depth is zero at this pixel, return negative coordinates so that the cropping to image bounds will filter it out
	return -1.0, -1.0
}

// ProjectToPixel returns the pixel p falls on. The second return is false for points behind the
// camera, non-finite points and pixels outside the image.
func (params *PinholeCameraIntrinsics) ProjectToPixel(p r3.Vector) (int, int, bool) {
	if p.Z <= 0 || !pointcloud.IsFinite(p) {
		return 0, 0, false
	}
	xPx, yPx := params.PointToPixel(p.X, p.Y, p.Z)
	if xPx < 0 || yPx < 0 || xPx >= float64(params.Width) || yPx >= float64(params.Height) {
		return 0, 0, false
	}
	return int(xPx), int(yPx), true
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// DepthToOrganizedCloud back-projects a row major depth image into an organized cloud. Pixels with
// non-positive or non-finite depth become NaN points.
func (params *PinholeCameraIntrinsics) DepthToOrganizedCloud(depth []float64) (*pointcloud.OrganizedCloud, error) {
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	if len(depth) != params.Width*params.Height {
		return nil, errors.Errorf("depth image has %d pixels, intrinsics expect %dx%d", len(depth), params.Width, params.Height)
	}
	pts := make([]r3.Vector, len(depth))
	for v := 0; v < params.Height; v++ {
		for u := 0; u < params.Width; u++ {
			z := depth[v*params.Width+u]
			if z <= 0 || math.IsNaN(z) || math.IsInf(z, 0) {
				pts[v*params.Width+u] = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
				continue
			}
			x, y, z := params.PixelToPoint(float64(u), float64(v), z)
			pts[v*params.Width+u] = r3.Vector{X: x, Y: y, Z: z}
		}
	}
	return pointcloud.NewOrganized(params.Width, params.Height, pts, nil)
}
