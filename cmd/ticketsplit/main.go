package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/ivlev/ticketsplit/internal/config"
	"github.com/ivlev/ticketsplit/internal/engine"
	terrors "github.com/ivlev/ticketsplit/internal/errors"
	"github.com/ivlev/ticketsplit/internal/ocr"
	"github.com/ivlev/ticketsplit/internal/source"
	"github.com/ivlev/ticketsplit/internal/system"
)

// Подставляется при сборке: -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// .env необязателен: переменные TICKETSPLIT_* могут прийти и из окружения
	if err := godotenv.Load(); err == nil {
		fmt.Println("[*] Загружены переменные из .env")
	}

	fs := ff.NewFlagSet("ticketsplit")
	var (
		inputPath   = fs.StringLong("input", "", "Путь к PDF, изображению или папке со сканами (по умолчанию: самый свежий файл в input/)")
		configPath  = fs.StringLong("config", "", "YAML-файл конфигурации")
		outputRoot  = fs.StringLong("output", "", "Корневая папка для билетов (по умолчанию ./outputs/tickets)")
		strategies  = fs.StringLong("strategies", "", "Стратегии детекции через запятую: ocr, contour, full-page")
		padding     = fs.IntLong("padding", 0, "Отступ вокруг билета в пикселях")
		format      = fs.StringLong("format", "", "Формат билетов: png, jpg, jpeg, tiff, bmp")
		dpi         = fs.IntLong("dpi", 0, "DPI растеризации PDF")
		workers     = fs.IntLong("workers", 0, "Параллельных страниц (0 - авто)")
		iou         = fs.Float64Long("iou", 0, "Порог IOU для слияния кандидатов")
		languages   = fs.StringLong("languages", "", "Языки Tesseract через запятую, например eng,rus")
		cannyLow    = fs.Float64Long("canny-low", 0, "Нижний порог Canny")
		cannyHigh   = fs.Float64Long("canny-high", 0, "Верхний порог Canny")
		contourArea = fs.IntLong("contour-min-area", 0, "Минимальная площадь контура в пикселях")
		clusterEps  = fs.Float64Long("cluster-eps", 0, "Радиус DBSCAN для строк текста")
		noSave      = fs.BoolLong("no-save", "Не сохранять билеты на диск (только статистика)")
		noManifest  = fs.BoolLong("no-manifest", "Не писать manifest.yaml")
		debug       = fs.BoolLong("debug", "Подробный лог по страницам")
		showStats   = fs.BoolLong("stats", "Показать отчет о производительности и дописать benchmark.log")
		showVersion = fs.BoolLong("version", "Показать версию")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("TICKETSPLIT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	isSet := func(name string) bool {
		f, ok := fs.GetFlag(name)
		return ok && f.IsSet()
	}

	// Увеличиваем лимиты системы (для macOS/Linux)
	system.InitResourceLimits()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[-] Ошибка конфигурации: %v", err)
	}

	// Флаги перекрывают файл, только если заданы явно
	if isSet("output") {
		cfg.Export.OutputRoot = *outputRoot
	}
	if isSet("strategies") {
		parsed, err := config.ParseStrategies(*strategies)
		if err != nil {
			log.Fatalf("[-] Ошибка: %v", err)
		}
		cfg.Strategies = parsed
	}
	if isSet("padding") {
		cfg.Export.Padding = *padding
	}
	if isSet("format") {
		cfg.Export.Format = strings.ToLower(*format)
	}
	if isSet("dpi") {
		cfg.DPI = *dpi
	}
	if isSet("workers") {
		cfg.Workers = *workers
	}
	if isSet("iou") {
		cfg.IOUThreshold = *iou
	}
	if isSet("languages") {
		cfg.OCR.Languages = splitList(*languages)
	}
	if isSet("canny-low") {
		cfg.Contour.CannyLow = *cannyLow
	}
	if isSet("canny-high") {
		cfg.Contour.CannyHigh = *cannyHigh
	}
	if isSet("contour-min-area") {
		cfg.Contour.MinArea = *contourArea
	}
	if isSet("cluster-eps") {
		cfg.TextCluster.Eps = *clusterEps
	}
	if *noSave {
		cfg.Export.SaveToDisk = false
	}
	if *noManifest {
		cfg.Export.WriteManifest = false
	}
	if *debug {
		cfg.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[-] Ошибка конфигурации: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	input := *inputPath
	if input == "" {
		os.MkdirAll("input", 0755)
		latest, err := system.FindLatestDocument("input", source.IsImageFile)
		if err != nil {
			log.Fatalf("[-] Ошибка: %v. Положите PDF или скан в input/", err)
		}
		input = latest
		fmt.Printf("[*] Выбран файл: %s\n", input)
	}

	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.HasStrategy(config.StrategyOCR) {
		fmt.Printf("[*] Tesseract %s, языки: %s\n", ocr.Version(), strings.Join(cfg.OCR.Languages, ","))
		opts = append(opts, engine.WithLocator(ocr.NewTesseractLocator(cfg.OCR.Languages, cfg.OCR.PageSegMode, cfg.DPI)))
	}

	processor, err := engine.NewProcessor(cfg, opts...)
	if err != nil {
		log.Fatalf("[-] Ошибка инициализации: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("--- [TICKETSPLIT] ---")
	fmt.Printf("[*] Источник: %s | Стратегии: %s | DPI: %d\n", input, strings.Join(cfg.Strategies, ","), cfg.DPI)
	fmt.Println("---------------------")

	report, err := processor.ProcessFile(ctx, input)
	if err != nil {
		if stage := terrors.StageOf(err); stage != "" {
			log.Fatalf("[-] Ошибка на этапе %s: %v", stage, err)
		}
		log.Fatalf("[-] Ошибка обработки: %v", err)
	}

	for _, pr := range report.Pages {
		fmt.Printf("[*] Страница %d: найдено %d, сохранено %d\n", pr.Page, len(pr.Detection.Candidates), len(pr.Tickets))
	}

	if *showStats {
		report.WriteStats(os.Stdout, version)
		if err := report.AppendBenchmarkLog("benchmark.log", version); err != nil {
			fmt.Printf("[!] Не удалось записать benchmark.log: %v\n", err)
		}
	}

	if cfg.Export.SaveToDisk && report.TotalTickets > 0 {
		fmt.Printf("[+++] Успех! %d билетов из %d страниц: %s\n", report.TotalTickets, report.TotalPages, filepath.Dir(report.Tickets()[0].Path))
		if report.ManifestPath != "" {
			fmt.Printf("[*] Манифест: %s\n", report.ManifestPath)
		}
	} else {
		fmt.Printf("[+++] Готово: %d билетов из %d страниц\n", report.TotalTickets, report.TotalPages)
	}
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
