package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// minPreciseFloat64 and maxPreciseFloat64 bound the coordinates LAS files store without
// losing precision.
const (
	minPreciseFloat64 = -(1 << 53)
	maxPreciseFloat64 = 1 << 53
)

// NewFromFile returns a pointcloud read in from the given pcd or las file.
func NewFromFile(fn string) (PointCloud, error) {
	switch filepath.Ext(fn) {
	case ".pcd":
		return newFromPCDFile(fn)
	case ".las":
		return NewFromLASFile(fn)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

func newFromPCDFile(fn string) (PointCloud, error) {
	f, err := os.Open(filepath.Clean(fn))
	if err != nil {
		return nil, err
	}
	defer func() {
		// closing a file opened for reading cannot lose data
		_ = f.Close()
	}()
	cloud, err := ReadPCD(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", fn)
	}
	return cloud, nil
}

// NewFromLASFile returns a point cloud from reading a LAS file. LAS files carry no normals.
func NewFromLASFile(fn string) (PointCloud, error) {
	lf, err := lidario.NewLasFile(filepath.Clean(fn), "r")
	if err != nil {
		return nil, err
	}
	defer func() {
		// closing a file opened for reading cannot lose data
		_ = lf.Close()
	}()

	cloud := NewWithPrealloc(lf.Header.NumberPoints)
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, errors.Wrapf(err, "reading LAS point %d", i)
		}
		data := p.PointData()
		cloud.Append(r3.Vector{X: data.X, Y: data.Y, Z: data.Z})
	}
	return cloud, nil
}

// WriteToLASFile writes the finite points of the cloud to a LAS file. Normals are dropped.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(filepath.Clean(fn), "w")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()
	if err := lf.AddHeader(lidario.LasHeader{PointFormatID: 0}); err != nil {
		return err
	}
	for i := 0; i < cloud.Size(); i++ {
		p := cloud.At(i)
		if !IsFinite(p) {
			continue
		}
		if p.X < minPreciseFloat64 || p.X > maxPreciseFloat64 ||
			p.Y < minPreciseFloat64 || p.Y > maxPreciseFloat64 ||
			p.Z < minPreciseFloat64 || p.Z > maxPreciseFloat64 {
			return errors.Errorf("point %d %v cannot be stored in a LAS file without loss", i, p)
		}
		if err := lf.AddLasPoint(&lidario.PointRecord0{
			X: p.X,
			Y: p.Y,
			Z: p.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			PointSourceID: 1,
		}); err != nil {
			return err
		}
	}
	return nil
}

// WriteToFile writes the cloud as a pcd file.
func WriteToFile(cloud PointCloud, fn string, outputType PCDType) (err error) {
	f, err := os.Create(filepath.Clean(fn))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := ToPCD(cloud, w, outputType); err != nil {
		return err
	}
	return w.Flush()
}

// ToPCD writes the cloud in pcd format. Organized clouds keep their WIDTH and HEIGHT.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	fieldCount := 3
	header := "VERSION .7\n"
	if cloud.HasNormals() {
		fieldCount = 6
		header += "FIELDS x y z normal_x normal_y normal_z\n" +
			"SIZE 4 4 4 4 4 4\n" +
			"TYPE F F F F F F\n" +
			"COUNT 1 1 1 1 1 1\n"
	} else {
		header += "FIELDS x y z\n" +
			"SIZE 4 4 4\n" +
			"TYPE F F F\n" +
			"COUNT 1 1 1\n"
	}
	width, height := cloud.Size(), 1
	if org, ok := cloud.(Organized); ok {
		width, height = org.Width(), org.Height()
	}
	header += fmt.Sprintf("WIDTH %d\nHEIGHT %d\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\n", width, height, cloud.Size())
	switch outputType {
	case PCDAscii:
		header += "DATA ascii\n"
	case PCDBinary:
		header += "DATA binary\n"
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown pcd output type %d", outputType)
	}
	if _, err := io.WriteString(out, header); err != nil {
		return err
	}

	vals := make([]float64, fieldCount)
	buf := make([]byte, 4*fieldCount)
	for i := 0; i < cloud.Size(); i++ {
		p := cloud.At(i)
		vals[0], vals[1], vals[2] = p.X, p.Y, p.Z
		if fieldCount == 6 {
			n := rawNormal(cloud, i)
			vals[3], vals[4], vals[5] = n.X, n.Y, n.Z
		}
		var err error
		switch outputType {
		case PCDBinary:
			for j, v := range vals {
				binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(float32(v)))
			}
			_, err = out.Write(buf)
		default:
			tokens := make([]string, fieldCount)
			for j, v := range vals {
				tokens[j] = strconv.FormatFloat(v, 'g', -1, 32)
			}
			_, err = io.WriteString(out, strings.Join(tokens, " ")+"\n")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	fields []string
	size   []uint64
	type_  []pcdValType
	count  []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType

	// column of each value of interest in a flattened point record, -1 if absent
	x, y, z    int
	nx, ny, nz int
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		header.fields = tokens
	case "SIZE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.type_ = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			t := pcdValType(token)
			switch t {
			case pcdValFloat, pcdValInt, pcdValUInt:
			default:
				return errors.Errorf("invalid TYPE field %s", token)
			}
			header.type_[i] = t
		}
	case "COUNT":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in COUNT line")
		}
		header.count = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.count[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid COUNT field %s", token)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

// resolveColumns finds the flattened column of every value of interest.
func (header *pcdHeader) resolveColumns() error {
	header.x, header.y, header.z = -1, -1, -1
	header.nx, header.ny, header.nz = -1, -1, -1
	col := 0
	for i, name := range header.fields {
		switch name {
		case "x":
			header.x = col
		case "y":
			header.y = col
		case "z":
			header.z = col
		case "normal_x":
			header.nx = col
		case "normal_y":
			header.ny = col
		case "normal_z":
			header.nz = col
		}
		col += int(header.count[i])
	}
	if header.x < 0 || header.y < 0 || header.z < 0 {
		return errors.Errorf("pcd fields %v lack x y z", header.fields)
	}
	if (header.nx < 0) != (header.ny < 0) || (header.nx < 0) != (header.nz < 0) {
		return errors.Errorf("pcd fields %v have an incomplete normal", header.fields)
	}
	return nil
}

func (header *pcdHeader) columns() int {
	total := 0
	for _, c := range header.count {
		total += int(c)
	}
	return total
}

// ReadPCD reads an ascii or binary pcd stream. Fields other than x y z and normal_x normal_y
// normal_z are skipped. Clouds with HEIGHT > 1 are returned as OrganizedCloud.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	if err := header.resolveColumns(); err != nil {
		return nil, err
	}

	var rows [][]float64
	var err error
	switch header.data {
	case PCDAscii:
		rows, err = readPCDAscii(in, header)
	case PCDBinary:
		rows, err = readPCDBinary(in, header)
	case PCDCompressed:
		return nil, errors.New("compressed pcd not yet supported")
	default:
		return nil, errors.Errorf("unsupported pcd data type %v", header.data)
	}
	if err != nil {
		return nil, err
	}
	return rowsToCloud(rows, header)
}

func rowsToCloud(rows [][]float64, header pcdHeader) (PointCloud, error) {
	pts := make([]r3.Vector, len(rows))
	var normals []r3.Vector
	if header.nx >= 0 {
		normals = make([]r3.Vector, len(rows))
	}
	for i, row := range rows {
		pts[i] = r3.Vector{X: row[header.x], Y: row[header.y], Z: row[header.z]}
		if normals != nil {
			normals[i] = r3.Vector{X: row[header.nx], Y: row[header.ny], Z: row[header.nz]}
		}
	}
	if header.height > 1 {
		org, err := NewOrganized(int(header.width), int(header.height), pts, normals)
		if err != nil {
			return nil, err
		}
		return org, nil
	}
	if normals != nil {
		withNormals, err := NewWithNormals(pts, normals)
		if err != nil {
			return nil, err
		}
		return withNormals, nil
	}
	return NewFromPoints(pts), nil
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) ([][]float64, error) {
	cols := header.columns()
	rows := make([][]float64, 0, header.points)
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && strings.TrimSpace(line) != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != cols {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		row := make([]float64, cols)
		for j, token := range tokens {
			row[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) ([][]float64, error) {
	stride := 0
	for i := range header.fields {
		stride += int(header.size[i] * header.count[i])
	}
	cols := header.columns()
	buf := make([]byte, stride)
	rows := make([][]float64, 0, header.points)
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		row := make([]float64, 0, cols)
		offset := 0
		for f := range header.fields {
			size := int(header.size[f])
			for c := 0; c < int(header.count[f]); c++ {
				v, err := decodePCDValue(buf[offset:offset+size], header.type_[f])
				if err != nil {
					return nil, err
				}
				row = append(row, v)
				offset += size
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodePCDValue(b []byte, t pcdValType) (float64, error) {
	switch {
	case t == pcdValFloat && len(b) == 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case t == pcdValFloat && len(b) == 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case t == pcdValUInt && len(b) == 1:
		return float64(b[0]), nil
	case t == pcdValUInt && len(b) == 2:
		return float64(binary.LittleEndian.Uint16(b)), nil
	case t == pcdValUInt && len(b) == 4:
		return float64(binary.LittleEndian.Uint32(b)), nil
	case t == pcdValInt && len(b) == 1:
		return float64(int8(b[0])), nil
	case t == pcdValInt && len(b) == 2:
		return float64(int16(binary.LittleEndian.Uint16(b))), nil
	case t == pcdValInt && len(b) == 4:
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	default:
		return 0, errors.Errorf("unsupported pcd value of type %s and size %d", t, len(b))
	}
}
