package backends

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/go-huggingface/hub"

	"github.com/sidegen-ml/sidegen/util"
)

// DownloadOptions is a struct of options that can be passed to DownloadModel.
type DownloadOptions struct {
	AuthToken             string
	Branch                string
	MaxRetries            int
	RetryInterval         int
	ConcurrentConnections int
	OnProgress            ProgressFunc
}

// NewDownloadOptions creates new DownloadOptions struct with default values.
// Override the values to specify different download options.
func NewDownloadOptions() DownloadOptions {
	d := DownloadOptions{}
	d.Branch = "main"
	d.MaxRetries = 5
	d.RetryInterval = 5
	d.ConcurrentConnections = 5
	return d
}

var weightExtensions = map[string]bool{
	".onnx":        true,
	".gguf":        true,
	".safetensors": true,
	".bin":         true,
}

// DownloadModel downloads a model from the HuggingFace hub into destination.
// Before anything is fetched, the repository is validated to contain a
// tokenizer.json and at least one weight file. Per-file completion is
// reported through options.OnProgress.
func DownloadModel(modelName string, destination string, options DownloadOptions) (string, error) {
	modelP := modelName
	if strings.Contains(modelP, ":") {
		modelP = strings.Split(modelName, ":")[0]
	}
	modelPath := path.Join(destination, strings.Replace(modelP, "/", "_", -1))

	repo := hub.New(modelName)
	if options.AuthToken != "" {
		repo = repo.WithAuth(options.AuthToken)
	}
	if options.ConcurrentConnections > 0 {
		repo.MaxParallelDownload = options.ConcurrentConnections
	}
	repo.Verbosity = 0
	repo.WithProgressBar(false)
	if options.Branch != "" {
		repo.WithRevision(options.Branch)
	}

	downloadFiles, err := validateDownloadHfModel(repo, options)
	if err != nil {
		return "", err
	}
	onProgress := options.OnProgress
	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	for i := 0; i < options.MaxRetries; i++ {
		var failed bool
		for j, downloadFile := range downloadFiles {
			downloadPaths, downloadErr := repo.DownloadFiles(downloadFile)
			if downloadErr != nil {
				failed = true
				break
			}
			truePath, symErr := filepath.EvalSymlinks(downloadPaths[0])
			if symErr != nil {
				return "", symErr
			}
			moveErr := util.CopyFile(truePath, fmt.Sprintf("%s/%s", modelPath, path.Base(downloadFile)))
			if moveErr != nil {
				return "", moveErr
			}
			// Reserve the tail of the range for tokenizer and backend init.
			onProgress(Progress{
				Status:   "progress",
				File:     path.Base(downloadFile),
				Progress: float64(j+1) / float64(len(downloadFiles)) * 90,
			})
		}
		if failed {
			time.Sleep(time.Duration(options.RetryInterval) * time.Second)
			continue
		}
		return modelPath, nil
	}

	return "", fmt.Errorf("failed to download %s after %d attempts", modelName, options.MaxRetries)
}

// ensureModelFiles resolves a model id to a local directory, downloading from
// the hub when the files are not already cached.
func ensureModelFiles(modelID string, modelsDir string, authToken string, onProgress ProgressFunc) (string, error) {
	if exists, err := util.FileExists(modelID); err == nil && exists {
		return modelID, nil
	}
	cached := util.PathJoinSafe(modelsDir, strings.Replace(modelID, "/", "_", -1))
	if exists, err := util.FileExists(util.PathJoinSafe(cached, "tokenizer.json")); err == nil && exists {
		return cached, nil
	}
	options := NewDownloadOptions()
	options.AuthToken = authToken
	options.OnProgress = onProgress
	return DownloadModel(modelID, modelsDir, options)
}

func validateDownloadHfModel(repo *hub.Repo, options DownloadOptions) ([]string, error) {
	for i := 0; i < options.MaxRetries; i++ {
		err := repo.DownloadInfo(false)
		if err != nil {
			if i+1 == options.MaxRetries {
				return nil, err
			}
			time.Sleep(time.Duration(options.RetryInterval) * time.Second)
			continue
		}
		break
	}

	tokenizerPath := ""
	var toDownload []string
	var weightFiles []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return nil, err
		}
		baseFileName := filepath.Base(fileName)
		if baseFileName == "tokenizer.json" {
			tokenizerPath = fileName
		} else if baseFileName == "special_tokens_map.json" ||
			baseFileName == "tokenizer_config.json" ||
			baseFileName == "config.json" ||
			baseFileName == "generation_config.json" {
			toDownload = append(toDownload, fileName)
		} else if weightExtensions[filepath.Ext(baseFileName)] {
			weightFiles = append(weightFiles, fileName)
		}
	}

	var errs []error
	if tokenizerPath == "" {
		errs = append(errs, fmt.Errorf("model does not have a tokenizer.json file"))
	} else {
		toDownload = append(toDownload, tokenizerPath)
	}
	if len(weightFiles) == 0 {
		errs = append(errs, fmt.Errorf("model does not have a weight file (%s)", strings.Join(weightExtensionList(), ", ")))
	}
	toDownload = append(toDownload, weightFiles...)
	return toDownload, errors.Join(errs...)
}

func weightExtensionList() []string {
	exts := make([]string, 0, len(weightExtensions))
	for ext := range weightExtensions {
		exts = append(exts, ext)
	}
	return exts
}
