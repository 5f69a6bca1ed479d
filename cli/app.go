// Package cli contains the pcreg command line tool: sample consensus model fitting and ICP
// registration of PCD and LAS files.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Global flags.
	generalFlagConfig = "config"
	generalFlagDebug  = "debug"

	// Flags shared by fit and register.
	flagOutput        = "output"
	flagSeed          = "seed"
	flagMaxIterations = "max-iterations"

	// Fit flags.
	fitFlagModel     = "model"
	fitFlagMethod    = "method"
	fitFlagThreshold = "threshold"
	fitFlagOptimize  = "optimize"

	// Register flags.
	registerFlagMaxDistance     = "max-correspondence-distance"
	registerFlagReciprocal      = "reciprocal"
	registerFlagEstimator       = "estimator"
	registerFlagOneToOne        = "one-to-one"
	registerFlagMedianFactor    = "median-factor"
	registerFlagTrimRatio       = "trim-ratio"
	registerFlagNormalAngle     = "normal-angle"
	registerFlagRANSACIters     = "ransac-iterations"
	registerFlagRANSACThreshold = "ransac-threshold"
	registerFlagGuess           = "guess"
	registerFlagHistogram       = "histogram"
)

var app = &cli.App{
	Name:            "pcreg",
	Usage:           "fit geometric models to point clouds and register point clouds",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.PathFlag{
			Name:    generalFlagConfig,
			Aliases: []string{"c"},
			Usage:   "load YAML configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "fit",
			Usage:     "fit a model to a point cloud with sample consensus",
			UsageText: "pcreg fit [options] <cloud.pcd>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  fitFlagModel,
					Usage: "model type, see `pcreg models`",
				},
				&cli.StringFlag{
					Name:  fitFlagMethod,
					Usage: "sample consensus method: ransac, msac, rmsac, rransac, lmeds, mlesac or prosac",
				},
				&cli.Float64Flag{
					Name:  fitFlagThreshold,
					Usage: "inlier distance threshold",
				},
				&cli.IntFlag{
					Name:  flagMaxIterations,
					Usage: "iteration limit",
				},
				&cli.Int64Flag{
					Name:  flagSeed,
					Usage: "random seed",
				},
				&cli.BoolFlag{
					Name:  fitFlagOptimize,
					Usage: "refine the coefficients on all inliers",
				},
				&cli.PathFlag{
					Name:  flagPlot,
					Usage: "save the penalty of every improvement to `FILE` (png, svg or pdf)",
				},
				&cli.PathFlag{
					Name:  flagOutput,
					Usage: "write the inliers to `FILE`, as LAS for .las and binary PCD otherwise",
				},
			},
			Action: FitAction,
		},
		{
			Name:      "register",
			Usage:     "align a source cloud onto a target cloud with ICP",
			UsageText: "pcreg register [options] <source.pcd> <target.pcd>",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  flagMaxIterations,
					Usage: "iteration limit",
				},
				&cli.Float64Flag{
					Name:  registerFlagMaxDistance,
					Usage: "largest distance of a correspondence",
				},
				&cli.BoolFlag{
					Name:  registerFlagReciprocal,
					Usage: "keep only mutual nearest neighbours",
				},
				&cli.StringFlag{
					Name:  registerFlagEstimator,
					Value: estimatorSVD,
					Usage: "transformation estimator: svd, point-to-plane, lm or lm-point-to-plane",
				},
				&cli.BoolFlag{
					Name:  registerFlagOneToOne,
					Usage: "keep only the closest correspondence per target point",
				},
				&cli.Float64Flag{
					Name:  registerFlagMedianFactor,
					Usage: "reject correspondences further than this factor times the median distance",
				},
				&cli.Float64Flag{
					Name:  registerFlagTrimRatio,
					Usage: "keep only this share of the closest correspondences",
				},
				&cli.Float64Flag{
					Name:  registerFlagNormalAngle,
					Usage: "reject correspondences whose normals differ by more than this angle in degrees",
				},
				&cli.IntFlag{
					Name:  registerFlagRANSACIters,
					Usage: "reject inconsistent correspondences with this many RANSAC iterations",
				},
				&cli.Float64Flag{
					Name:  registerFlagRANSACThreshold,
					Usage: "inlier threshold of the RANSAC rejector",
				},
				&cli.Int64Flag{
					Name:  flagSeed,
					Usage: "random seed of the RANSAC rejector",
				},
				&cli.Float64SliceFlag{
					Name:  registerFlagGuess,
					Usage: "initial transform as 16 row-major values",
				},
				&cli.BoolFlag{
					Name:  registerFlagHistogram,
					Usage: "print a histogram of the final correspondence distances",
				},
				&cli.PathFlag{
					Name:  flagPlot,
					Usage: "save the correspondence MSE of every iteration to `FILE` (png, svg or pdf)",
				},
				&cli.PathFlag{
					Name:  flagOutput,
					Usage: "write the aligned source to `FILE`, as LAS for .las and binary PCD otherwise",
				},
			},
			Action: RegisterAction,
		},
		{
			Name:   "models",
			Usage:  "list the supported model types",
			Action: ModelsAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
