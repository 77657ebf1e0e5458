package handler

import (
	"errors"
	"io/fs"
	"net/http"
	"os"

	"mlir-eval/internal/model"
	"mlir-eval/internal/service"

	"github.com/gin-gonic/gin"
)

type ExperimentHandler struct {
	svc *service.ServiceContext
}

func NewExperimentHandler(svc *service.ServiceContext) *ExperimentHandler {
	return &ExperimentHandler{svc: svc}
}

type experimentInfo struct {
	Name       string `json:"name"`
	Folder     string `json:"folder"`
	Pipeline   string `json:"pipeline"`
	ResultPath string `json:"result_path"`
	HasResults bool   `json:"has_results"`
}

type runBody struct {
	SkipGeneration bool `json:"skip_generation"`
}

type compareQuery struct {
	A string `form:"a" binding:"required"`
	B string `form:"b" binding:"required"`
}

type runsQuery struct {
	Experiment string `form:"experiment" binding:"omitempty,oneof=mlirsmith arith linalg tensor"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// ListExperiments 列出全部实验及其 pipeline
func (h *ExperimentHandler) ListExperiments(c *gin.Context) {
	root := h.svc.Config.Generation.Root
	list := make([]experimentInfo, 0, len(model.Experiments()))
	for _, e := range model.Experiments() {
		folder, _ := e.Folder(root)
		pipeline, _ := e.Pipeline()
		path, _ := service.ResultsPath(root, e)
		_, err := os.Stat(path)
		list = append(list, experimentInfo{
			Name:       e.String(),
			Folder:     folder,
			Pipeline:   pipeline.String(),
			ResultPath: path,
			HasResults: err == nil,
		})
	}
	c.JSON(http.StatusOK, gin.H{"experiments": list})
}

// GetResults 返回持久化的原始记录
func (h *ExperimentHandler) GetResults(c *gin.Context) {
	e, ok := h.experimentParam(c)
	if !ok {
		return
	}
	batch, path, err := h.svc.Runner.LoadResults(e)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"experiment":  e,
		"result_path": path,
		"records":     batch,
	})
}

// GetSummary 由结果文件计算汇总统计，?format=markdown 返回表格文本
func (h *ExperimentHandler) GetSummary(c *gin.Context) {
	e, ok := h.experimentParam(c)
	if !ok {
		return
	}
	batch, path, err := h.svc.Runner.LoadResults(e)
	if err != nil {
		abortWithError(c, err)
		return
	}
	summary := service.Summarize(batch)

	if c.Query("format") == "markdown" {
		c.String(http.StatusOK, service.RenderSummaryMarkdown(e.String(), summary))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"experiment":  e,
		"result_path": path,
		"summary":     summary,
	})
}

// GetAnalysis 统计标记算子出现次数，?marker= 覆盖默认值
func (h *ExperimentHandler) GetAnalysis(c *gin.Context) {
	e, ok := h.experimentParam(c)
	if !ok {
		return
	}
	path, err := service.ResultsPath(h.svc.Config.Generation.Root, e)
	if err != nil {
		abortWithError(c, err)
		return
	}

	analyzer := h.svc.Analyzer
	if marker := c.Query("marker"); marker != "" {
		analyzer = service.NewAnalyzer(marker, nil)
	}
	report, err := analyzer.Analyze(path)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if c.Query("format") == "markdown" {
		c.String(http.StatusOK, service.RenderAnalysisMarkdown(report))
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiment": e, "analysis": report})
}

// CompareExperiments 两个实验编译率的 z 检验
func (h *ExperimentHandler) CompareExperiments(c *gin.Context) {
	var q compareQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batches := make([]model.Batch, 2)
	exps := make([]model.Experiment, 2)
	for i, name := range []string{q.A, q.B} {
		e, err := model.ParseExperiment(name)
		if err != nil {
			abortWithError(c, err)
			return
		}
		batch, _, err := h.svc.Runner.LoadResults(e)
		if err != nil {
			abortWithError(c, err)
			return
		}
		exps[i], batches[i] = e, batch
	}

	c.JSON(http.StatusOK, gin.H{
		"comparison": service.CompareBatches(exps[0].String(), batches[0], exps[1].String(), batches[1]),
	})
}

// RunExperiment 同步执行一次 生成 -> 评测 -> 持久化
func (h *ExperimentHandler) RunExperiment(c *gin.Context) {
	e, ok := h.experimentParam(c)
	if !ok {
		return
	}

	var body runBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.svc.Runner.Run(c.Request.Context(), service.ExperimentRunRequest{
		Experiment:     e,
		SkipGeneration: body.SkipGeneration,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":      result,
		"result_path": result.ResultPath,
	})
}

// ListRuns 数据库中的运行记录，未启用时返回空列表
func (h *ExperimentHandler) ListRuns(c *gin.Context) {
	var q runsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = 50
	}

	runs, err := h.svc.Runner.History(c.Request.Context(), q.Experiment, q.Limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if runs == nil {
		runs = []model.ExperimentRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

func (h *ExperimentHandler) experimentParam(c *gin.Context) (model.Experiment, bool) {
	e, err := model.ParseExperiment(c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return 0, false
	}
	return e, true
}

// abortWithError 按错误类型映射状态码
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		status = http.StatusConflict
	case errors.Is(err, service.ErrBinaryNotFound):
		status = http.StatusServiceUnavailable
	case errors.Is(err, model.ErrUnknownExperiment), errors.Is(err, fs.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrMalformedBatch):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
