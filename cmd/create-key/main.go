package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"pulse/backend/internal/auth"
	"pulse/backend/internal/config"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/storage"
	"pulse/backend/internal/storage/memory"
	sqlstore "pulse/backend/internal/storage/sql"
)

func main() {
	name := flag.String("name", "", "密钥名称（必填）")
	permsFlag := flag.String("permissions", "read", "权限列表，逗号分隔: read,write,admin")
	rateLimit := flag.Int("rate-limit", 0, "每窗口请求数上限，0 表示使用全局默认")
	expiresIn := flag.Duration("expires-in", 0, "有效期（如 720h），0 表示永不过期")
	flag.Parse()

	if *name == "" {
		fmt.Println("用法:")
		fmt.Println("  go run cmd/create-key/main.go -name='ci-bot' -permissions=read,write -expires-in=720h")
		os.Exit(1)
	}

	var permissions []domain.Permission
	for _, p := range strings.Split(*permsFlag, ",") {
		switch perm := domain.Permission(strings.TrimSpace(p)); perm {
		case domain.PermissionRead, domain.PermissionWrite, domain.PermissionAdmin:
			permissions = append(permissions, perm)
		default:
			fmt.Printf("错误: 未知权限 '%s'\n", p)
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("错误: 加载配置失败: %v\n", err)
		os.Exit(1)
	}

	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			fmt.Printf("错误: 连接数据库失败: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Println("警告: 未配置数据库，密钥只写入内存，进程退出即失效")
		store = memory.NewStore(0)
	}
	defer store.Close()

	authService := auth.NewService(
		store,
		nil,
		cfg.Auth.DigestSecret,
		cfg.Auth.CacheTTL,
		cfg.Auth.LocalCacheSize,
		zap.NewNop(),
	)

	input := auth.CreateAPIKeyInput{
		Name:        *name,
		Permissions: permissions,
		RateLimit:   *rateLimit,
	}
	if *expiresIn > 0 {
		input.ExpiresIn = expiresIn
	}

	apiKey, plaintext, err := authService.CreateAPIKey(input)
	if err != nil {
		fmt.Printf("错误: 创建密钥失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ API密钥创建成功")
	fmt.Printf("  ID:          %s\n", apiKey.ID)
	fmt.Printf("  Name:        %s\n", apiKey.Name)
	fmt.Printf("  Permissions: %v\n", apiKey.Permissions)
	if apiKey.ExpiresAt != nil {
		fmt.Printf("  ExpiresAt:   %s\n", apiKey.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Printf("  Key: %s\n", plaintext)
	fmt.Println()
	fmt.Println("明文密钥仅此一次显示，请立即妥善保存。")
}
