// 版权所有 2025 GateFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供多 Provider 大语言模型路由核心，包括 Provider 抽象与注册表、
统一错误分类、健康巡检，以及子包中的评分、决策、熔断、舱壁与准入能力。

# 概述

本包目标是屏蔽不同模型服务商在接口、鉴权、错误语义上的差异，并在多个
后端之间做出延迟、成本、可靠性与能力四维加权的智能路由决策。

你可以使用它完成以下典型场景：

- 多 Provider 候选筛选与加权评分排序。
- 熔断、舱壁与回退链组成的可靠性包络。
- 按客户端的滑动窗口限流与分级降级（CHEAP_MODEL/EMERGENCY/DENY）。
- 每日 token 预算与成本控制。
- 滚动窗口遥测（p95、错误率、吞吐）与突发检测。

# 子包

  - llm/telemetry:      滚动窗口遥测存储
  - llm/scoring:        四维加权评分
  - llm/policy:         命名路由策略
  - llm/router:         决策引擎与决策缓存
  - llm/circuitbreaker: 分布式熔断器
  - llm/bulkhead:       并发舱壁
  - llm/admission:      准入控制与 token 预算
  - llm/gateway:        顶层编排
  - llm/providers:      配置驱动的注册表工厂与 OpenAI 兼容适配器
  - llm/tokenizer:      token 计数（tiktoken + 启发式估算）

顶层装配入口见根包 gateflow。
*/
package llm
