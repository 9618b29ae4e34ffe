package cmd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"image-volume-builder/convert"
	"image-volume-builder/fs"
	"image-volume-builder/logging"
	"image-volume-builder/models"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a directory of imaging files into image volumes",
	Long: `Scans the input directory, reconstructs every image volume it can
from the files found (DICOM series, Topcon and Heidelberg OCT containers)
and writes the results as MetaIO header/raw pairs into the output
directory. Files that cannot be consumed are reported per file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert()
	},
}

func init() {
	RootCmd.AddCommand(convertCmd)
	convertCmd.Flags().String("input", ".", "directory to scan for input files")
	convertCmd.Flags().String("output", "output", "directory to write image artifacts to")
	convertCmd.Flags().Int("cores", 0, "volumes to assemble concurrently, 0 for one per cpu")
	viper.BindPFlag("input", convertCmd.Flags().Lookup("input"))
	viper.BindPFlag("output", convertCmd.Flags().Lookup("output"))
	viper.BindPFlag("cores", convertCmd.Flags().Lookup("cores"))
}

func runConvert() error {
	logger := logging.NewLogger()
	log := logger.WithField("module", "cmd")

	files, err := listFiles(viper.GetString("input"))
	if err != nil {
		return err
	}
	log.WithField("files", len(files)).Info("scanning input directory")

	converter := convert.NewConverter(logger, viper.GetInt("cores"))
	result, convertErr := converter.Convert(files)

	output := viper.GetString("output")
	for _, image := range result.Images {
		if err := fs.WriteMetaIO(output, image); err != nil {
			log.WithField("image", image.Name).Error(err)
			return err
		}
		log.WithField("image", image.Name).Info("artifact written")
	}

	if convertErr != nil {
		var unconsumed *models.UnconsumedFilesError
		if errors.As(convertErr, &unconsumed) {
			for _, path := range unconsumed.FileErrors.Paths() {
				for _, message := range unconsumed.FileErrors[path] {
					log.WithField("file", path).Warn(message)
				}
			}
		}
		return convertErr
	}
	return nil
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
