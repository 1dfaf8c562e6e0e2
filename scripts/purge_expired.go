// 手动清理终态 reveal 脚本
//
// 过期/已消费超过保留期的 reveal 记录连同底层资源一并删除。
// 主应用不做自动清理，保留期内的终态记录用于防止重复揭示。
//
// 用法: go run scripts/purge_expired.go [保留天数，默认30]

package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"reveal_backend/internal/config"
	"reveal_backend/internal/model"
	"reveal_backend/internal/service"
	"reveal_backend/pkg/database"
	"reveal_backend/pkg/logger"
)

func main() {
	retentionDays := 30
	if len(os.Args) > 1 {
		if v, err := strconv.Atoi(os.Args[1]); err == nil && v > 0 {
			retentionDays = v
		}
	}

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	logger.InitLogger(cfg)

	// 清理脚本不做表结构变更
	db, err := database.InitDB(&cfg.Database, false)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	storage := service.NewStorageService(cfg)
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var reveals []model.Reveal
	err = db.Where("visibility IN ? AND updated_at < ?",
		[]model.RevealVisibility{model.VisibilityConsumed, model.VisibilityExpired}, cutoff).
		Find(&reveals).Error
	if err != nil {
		log.Fatalf("查询终态记录失败: %v", err)
	}

	ctx := context.Background()
	purged := 0
	for _, r := range reveals {
		for _, key := range []string{r.AssetKey, r.YesAssetKey, r.NoAssetKey} {
			if key == "" {
				continue
			}
			if err := storage.Delete(ctx, key); err != nil {
				log.Printf("资源删除失败 reveal=%s key=%s: %v", r.ID, key, err)
			}
		}
		if err := db.Unscoped().Delete(&model.Reveal{}, "id = ?", r.ID).Error; err != nil {
			log.Printf("记录删除失败 reveal=%s: %v", r.ID, err)
			continue
		}
		db.Unscoped().Delete(&model.Attempt{}, "reveal_id = ?", r.ID)
		purged++
	}

	log.Printf("清理完成: %d 条记录（保留 %d 天内的终态记录）", purged, retentionDays)
}
