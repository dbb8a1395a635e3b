package schema

import (
	"slices"
	"sync"

	"github.com/boyter/gocodewalker"
)

// Discover finds model sources under root, honouring .gitignore and
// .ignore files. Results are sorted.
func Discover(root string) ([]string, error) {
	var files []string

	err := walkDir(root, func(path string) {
		if IsSource(path) {
			files = append(files, path)
		}
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)

	return files, nil
}

func walkDir(root string, callback func(path string)) error {
	fileListQueue := make(chan *gocodewalker.File, 100)

	fileWalker := gocodewalker.NewFileWalker(root, fileListQueue)
	fileWalker.AllowListExtensions = []string{"palm", "models.yaml", "models.yml", "yaml", "yml"}

	var walkErr error

	fileWalker.SetErrorHandler(func(e error) bool {
		walkErr = e

		return true
	})

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		for f := range fileListQueue {
			callback(f.Location)
		}
	}()

	err := fileWalker.Start()
	if err != nil {
		return err
	}

	wg.Wait()

	return walkErr
}
