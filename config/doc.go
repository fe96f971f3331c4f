// Package config 提供 GateFlow 的配置管理功能。
//
// 包含配置加载、验证与文件变更监听。
// 支持从 YAML 文件和环境变量加载配置（优先级：默认值 → 文件 → 环境变量），
// 并通过 fsnotify 监听器为策略段提供运行时热重载能力。
package config
