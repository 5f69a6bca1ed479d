package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/yxlao/StanfordPCL-sub001/logging"
	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
)

// printf prints a message with a trailing newline.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	printf(w, "Warning: "+format, a...)
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(generalFlagDebug) {
		return logging.NewDebugLogger("pcreg")
	}
	return logging.NewLogger("pcreg")
}

// saveCloud writes cloud to path as LAS for a .las extension and as binary PCD otherwise.
func saveCloud(cloud pointcloud.PointCloud, path string) error {
	if filepath.Ext(path) == ".las" {
		return pointcloud.WriteToLASFile(cloud, path)
	}
	return pointcloud.WriteToFile(cloud, path, pointcloud.PCDBinary)
}
