package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
	"github.com/yxlao/StanfordPCL-sub001/sampleconsensus"
)

// FitAction fits a model to a point cloud file and prints the best coefficients.
func FitAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("fit expects exactly one point cloud file")
	}
	fc, err := readConfigFile(c.Path(generalFlagConfig))
	if err != nil {
		return err
	}
	modelCfg, err := fc.modelConfig()
	if err != nil {
		return err
	}
	sacCfg, err := fc.sampleConsensusConfig()
	if err != nil {
		return err
	}
	if c.IsSet(fitFlagModel) {
		if modelCfg.Type, err = sampleconsensus.ParseModelType(c.String(fitFlagModel)); err != nil {
			return err
		}
	}
	if c.IsSet(fitFlagMethod) {
		sacCfg.Method = sampleconsensus.Method(strings.ToLower(c.String(fitFlagMethod)))
	}
	if c.IsSet(fitFlagThreshold) {
		sacCfg.Threshold = c.Float64(fitFlagThreshold)
	}
	if c.IsSet(flagMaxIterations) {
		sacCfg.MaxIterations = c.Int(flagMaxIterations)
	}
	if c.IsSet(flagSeed) {
		sacCfg.Seed = c.Int64(flagSeed)
	}
	if c.IsSet(fitFlagOptimize) {
		sacCfg.Optimize = c.Bool(fitFlagOptimize)
	}

	cloud, err := pointcloud.NewFromFile(c.Args().First())
	if err != nil {
		return err
	}
	model, err := sampleconsensus.NewModel(modelCfg, cloud)
	if err != nil {
		return err
	}
	engine, err := sampleconsensus.NewEngine(model, sacCfg, newLogger(c))
	if err != nil {
		return err
	}
	res, err := engine.ComputeModel(c.Context)
	if err != nil {
		return errors.Wrapf(err, "fitting %v", modelCfg.Type)
	}

	printf(c.App.Writer, "%s", fitTable(modelCfg.Type, sacCfg.Method, cloud.Size(), res))
	if len(res.Inliers) < modelCfg.Type.SampleSize()*2 {
		warningf(c.App.Writer, "only %d inliers, the model is likely a poor fit", len(res.Inliers))
	}
	if path := c.Path(flagPlot); path != "" {
		if err := savePlot(path, fmt.Sprintf("%s %v fit", sacCfg.Method, modelCfg.Type), "penalty", res.Improvements); err != nil {
			return err
		}
	}
	if out := c.Path(flagOutput); out != "" {
		inliers := pointcloud.Subset(cloud, res.Inliers).Cloud
		if err := saveCloud(inliers, out); err != nil {
			return errors.Wrap(err, "writing inliers")
		}
		printf(c.App.Writer, "wrote %d inliers to %s", inliers.Size(), out)
	}
	return nil
}

func fitTable(modelType sampleconsensus.ModelType, method sampleconsensus.Method, total int, res *sampleconsensus.Result) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Model", "Method", "Coefficients", "Inliers", "Iterations", "Skipped", "Penalty"})
	coefficients := lo.Map(res.Coefficients, func(v float64, _ int) string { return fmt.Sprintf("%.6g", v) })
	t.AppendRow(table.Row{
		modelType.String(),
		string(method),
		strings.Join(coefficients, " "),
		fmt.Sprintf("%d / %d", len(res.Inliers), total),
		res.Iterations,
		res.Skipped,
		fmt.Sprintf("%.6g", res.Penalty),
	})
	return t.Render()
}

// ModelsAction lists the registered model types.
func ModelsAction(c *cli.Context) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Model", "Sample size", "Needs normals"})
	for _, modelType := range sampleconsensus.ModelTypes() {
		t.AppendRow(table.Row{modelType.String(), modelType.SampleSize(), modelType.NeedsNormals()})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}
